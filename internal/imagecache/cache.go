package imagecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shelfkeeper/photocache/internal/cache"
	"github.com/shelfkeeper/photocache/internal/config"
	"github.com/shelfkeeper/photocache/internal/fetcher"
	"github.com/shelfkeeper/photocache/internal/logging"
	"github.com/shelfkeeper/photocache/internal/metrics"
)

// Options 在构造时固定，之后不再变化。
type Options struct {
	MaxMemoryEntries   int
	MaxMemoryBytes     int64
	JPEGQuality        int
	MaxImagePixels     int64
	DiskWriteWorkers   int
	DiskWriteQueue     int
	PreloadConcurrency int
}

// DefaultOptions returns the limits used when no configuration is supplied.
func DefaultOptions() Options {
	return Options{
		MaxMemoryEntries:   config.DefaultMaxMemoryEntries,
		MaxMemoryBytes:     config.DefaultMaxMemoryCache,
		JPEGQuality:        config.DefaultJPEGQuality,
		MaxImagePixels:     config.DefaultMaxImagePixels,
		DiskWriteWorkers:   config.DefaultDiskWriteWorkers,
		DiskWriteQueue:     config.DefaultDiskWriteQueue,
		PreloadConcurrency: config.DefaultPreloadConcurrency,
	}
}

// OptionsFromConfig 从全局配置提取缓存上限。
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return DefaultOptions()
	}
	g := cfg.Global
	return Options{
		MaxMemoryEntries:   g.MaxMemoryEntries,
		MaxMemoryBytes:     g.MaxMemoryCache,
		JPEGQuality:        g.JPEGQuality,
		MaxImagePixels:     g.MaxImagePixels,
		DiskWriteWorkers:   g.DiskWriteWorkers,
		DiskWriteQueue:     g.DiskWriteQueue,
		PreloadConcurrency: g.PreloadConcurrency,
	}
}

// Stats 是内存层与下载协调器的即时快照。
type Stats struct {
	MemoryEntries int   `json:"memory_entries"`
	MemoryBytes   int64 `json:"memory_bytes"`
	InFlight      int64 `json:"in_flight"`
}

// Cache 是图片缓存的唯一入口：内存 → 磁盘 → 去重回源。
// 对外只暴露 present/absent 语义，任何失败都在此层记录日志后吸收。
type Cache struct {
	fetcher     fetcher.Fetcher
	store       cache.Store
	memory      *MemoryStore
	coordinator *Coordinator
	writer      *diskWriter
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	opts        Options

	// generation 在每次 InvalidateAll 时递增；开始于旧一代的读取或下载不再写入任何缓存层。
	// publishMu 保证 “检查代数 + 写入内存/入队” 与整个清理过程互斥。
	publishMu  sync.RWMutex
	generation atomic.Uint64
}

// New 组装缓存门面。logger 为空时丢弃日志，m 为空时不采集指标。
// 调用方负责在退出前调用 Close 以排空后台写盘队列。
func New(f fetcher.Fetcher, store cache.Store, logger *logrus.Logger, m *metrics.Metrics, opts Options) *Cache {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.PreloadConcurrency <= 0 {
		opts.PreloadConcurrency = config.DefaultPreloadConcurrency
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = config.DefaultJPEGQuality
	}
	if opts.MaxImagePixels <= 0 {
		opts.MaxImagePixels = config.DefaultMaxImagePixels
	}

	return &Cache{
		fetcher:     f,
		store:       store,
		memory:      NewMemoryStore(opts.MaxMemoryEntries, opts.MaxMemoryBytes, m.RecordEviction),
		coordinator: NewCoordinator(m),
		writer:      newDiskWriter(store, logger, m, opts.JPEGQuality, opts.DiskWriteWorkers, opts.DiskWriteQueue),
		logger:      logger,
		metrics:     m,
		opts:        opts,
	}
}

// Cached 同步查找：先内存，再磁盘（命中后提升到内存），从不访问网络。
func (c *Cache) Cached(url string) (*Image, bool) {
	key := cache.KeyFor(url)

	if img, ok := c.memory.Get(key); ok {
		c.metrics.RecordLookup(metrics.TierMemory)
		return img, true
	}

	gen := c.generation.Load()
	if img, ok := c.loadFromDisk(key, url); ok {
		c.publish(gen, func() { c.memory.Put(key, img) })
		c.metrics.RecordLookup(metrics.TierDisk)
		return img, true
	}

	c.metrics.RecordLookup(metrics.TierMiss)
	return nil, false
}

// Fetch 先走 Cached，未命中时经协调器回源；同一 URL 的并发请求共享一次下载。
func (c *Cache) Fetch(ctx context.Context, url string) (*Image, bool) {
	if img, ok := c.Cached(url); ok {
		return img, true
	}

	key := cache.KeyFor(url)
	return c.coordinator.FetchOrJoin(ctx, key, func(loadCtx context.Context) (*Image, error) {
		return c.load(loadCtx, key, url)
	})
}

// Preload 并发地对每个 URL 执行 Fetch，尽力而为，不返回单项失败。
// 返回时所有已启动的 Fetch 均已结束；ctx 结束后不再启动新的 Fetch。
func (c *Cache) Preload(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}

	var (
		g      errgroup.Group
		loaded atomic.Int64
	)
	g.SetLimit(c.opts.PreloadConcurrency)

	started := 0
	for _, url := range urls {
		if ctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			if _, ok := c.Fetch(ctx, url); ok {
				loaded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.WithFields(logrus.Fields{
		"action":    "preload",
		"requested": len(urls),
		"started":   started,
		"loaded":    loaded.Load(),
	}).Info("preload_done")
}

// InvalidateAll 清空内存与磁盘两层。递增代数后，仍在进行中的下载完成时不再写入缓存；
// 已入队的写盘先排空再清理磁盘，保证旧条目不会在清理后重新出现。
func (c *Cache) InvalidateAll(ctx context.Context) error {
	// 整个清理期间持有写锁：worker 与 store 都不获取 publishMu，flush 不会死锁。
	c.publishMu.Lock()
	c.generation.Add(1)
	c.memory.Clear()
	c.writer.flush()
	err := c.store.Clear(ctx)
	c.publishMu.Unlock()
	c.publishUsage()

	entry := c.logger.WithField("action", "invalidate")
	if err != nil {
		entry.WithError(err).Warn("disk_clear_failed")
		return err
	}
	entry.Info("cache_invalidated")
	return nil
}

// TrimMemory 响应内存压力信号，仅丢弃内存层；磁盘层不受影响。
func (c *Cache) TrimMemory() {
	entries, bytes := c.memory.Len(), c.memory.Bytes()
	c.memory.Clear()
	c.publishUsage()

	c.logger.WithFields(logrus.Fields{
		"action":        "trim",
		"dropped":       entries,
		"dropped_bytes": bytes,
	}).Info("memory_trimmed")
}

// DiskSize 返回磁盘缓存总字节数，O(n) 遍历，仅用于诊断。
func (c *Cache) DiskSize(ctx context.Context) (int64, error) {
	return c.store.TotalSize(ctx)
}

// Stats returns a snapshot of the memory tier and in-flight downloads.
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryEntries: c.memory.Len(),
		MemoryBytes:   c.memory.Bytes(),
		InFlight:      c.coordinator.InFlight(),
	}
}

// Flush 阻塞直到排队中的写盘全部完成。
func (c *Cache) Flush() {
	c.writer.flush()
}

// Close 停止后台写盘池并等待队列排空，可重复调用。
func (c *Cache) Close() {
	c.writer.close()
}

func (c *Cache) load(ctx context.Context, key, url string) (*Image, error) {
	// 上一轮下载可能刚好在 Cached 与加入协调器之间完成。
	if img, ok := c.memory.Get(key); ok {
		return img, nil
	}

	fields := logging.ImageFields("image_fetch", url, key)
	gen := c.generation.Load()
	start := time.Now()

	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		kind := fetcher.Kind(err)
		c.metrics.RecordFetch(kind, time.Since(start))
		entry := c.logger.WithFields(fields).WithError(err).WithField("failure_kind", kind)
		var serverErr *fetcher.ServerError
		if errors.As(err, &serverErr) {
			entry = entry.WithField("upstream_status", serverErr.StatusCode)
		}
		entry.Warn("image_fetch_failed")
		return nil, err
	}

	img, err := Decode(data, c.opts.MaxImagePixels)
	if err != nil {
		c.metrics.RecordFetch(metrics.ResultDecode, time.Since(start))
		c.logger.WithFields(fields).WithError(err).WithField("size_bytes", len(data)).Warn("image_decode_failed")
		return nil, err
	}

	elapsed := time.Since(start)
	c.metrics.RecordFetch(metrics.ResultOK, elapsed)
	if !c.publish(gen, func() {
		c.memory.Put(key, img)
		c.writer.enqueue(writeJob{key: key, url: url, img: img})
	}) {
		c.logger.WithFields(fields).Debug("image_fetched_after_invalidate")
		return img, nil
	}

	c.logger.WithFields(fields).WithFields(logrus.Fields{
		"format":     img.Format,
		"width":      img.Width,
		"height":     img.Height,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Debug("image_fetched")
	return img, nil
}

func (c *Cache) loadFromDisk(key, url string) (*Image, bool) {
	fields := logging.ImageFields("disk_read", url, key)

	data, err := c.store.Get(context.Background(), key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.WithFields(fields).WithError(err).Warn("disk_read_failed")
		}
		return nil, false
	}

	img, err := Decode(data, c.opts.MaxImagePixels)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("disk_entry_corrupt")
		if rmErr := c.store.Remove(context.Background(), key); rmErr != nil {
			c.logger.WithFields(fields).WithError(rmErr).Warn("disk_remove_failed")
		}
		return nil, false
	}
	// 磁盘文件即是按 JPEGQuality 编码的结果，响应时直接复用。
	return img.withJPEG(data, c.opts.JPEGQuality), true
}

// publish 仅当 gen 仍是当前代数时执行写入，返回是否已写入。
func (c *Cache) publish(gen uint64, write func()) bool {
	c.publishMu.RLock()
	defer c.publishMu.RUnlock()
	if c.generation.Load() != gen {
		return false
	}
	write()
	c.publishUsage()
	return true
}

func (c *Cache) publishUsage() {
	c.metrics.SetMemoryUsage(c.memory.Len(), c.memory.Bytes())
}
