package imagecache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/shelfkeeper/photocache/internal/metrics"
)

// LoadFunc 执行一次完整的 回源-解码-入库 流程。
type LoadFunc func(ctx context.Context) (*Image, error)

// Coordinator 保证同一 key 同时最多只有一个 LoadFunc 在执行，
// 其余并发请求等待同一结果；完成后记录即被移除，失败不会被缓存。
type Coordinator struct {
	group    singleflight.Group
	inFlight atomic.Int64
	metrics  *metrics.Metrics
}

// NewCoordinator 创建下载协调器，m 可为空。
func NewCoordinator(m *metrics.Metrics) *Coordinator {
	return &Coordinator{metrics: m}
}

// FetchOrJoin 为 key 启动或加入一次下载。
//
// 共享的 load 运行在脱离调用方取消信号的 context 上，总会执行完毕并惠及所有等待者；
// 调用方自身的 ctx 结束时只是不再等待并得到 absent。
func (c *Coordinator) FetchOrJoin(ctx context.Context, key string, load LoadFunc) (*Image, bool) {
	var started bool
	ch := c.group.DoChan(key, func() (any, error) {
		started = true
		c.inFlight.Add(1)
		defer c.inFlight.Add(-1)
		return load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		// started 在结果送达前写入，此处读取无竞争；加入者的闭包从不执行。
		if !started {
			c.metrics.RecordJoin()
		}
		if res.Err != nil {
			return nil, false
		}
		img, _ := res.Val.(*Image)
		return img, img != nil
	case <-ctx.Done():
		return nil, false
	}
}

// InFlight returns the number of downloads currently running.
func (c *Coordinator) InFlight() int64 {
	return c.inFlight.Load()
}
