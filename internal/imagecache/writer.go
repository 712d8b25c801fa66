package imagecache

import (
	"bytes"
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/shelfkeeper/photocache/internal/cache"
	"github.com/shelfkeeper/photocache/internal/logging"
	"github.com/shelfkeeper/photocache/internal/metrics"
)

type writeJob struct {
	key string
	url string
	img *Image
}

// diskWriter 是有界的后台写盘池：固定数量的 worker 消费有界队列，
// JPEG 编码与文件 I/O 都在 worker 中完成，调用方永不阻塞。队列满时丢弃写入。
type diskWriter struct {
	store   cache.Store
	logger  *logrus.Logger
	metrics *metrics.Metrics
	quality int

	jobs chan writeJob
	wg   sync.WaitGroup

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

func newDiskWriter(store cache.Store, logger *logrus.Logger, m *metrics.Metrics, quality, workers, queue int) *diskWriter {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	w := &diskWriter{
		store:   store,
		logger:  logger,
		metrics: m,
		quality: quality,
		jobs:    make(chan writeJob, queue),
	}
	w.idle = sync.NewCond(&w.mu)

	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

// enqueue 投递一次写盘；队列已满或写入池已关闭时返回 false。
func (w *diskWriter) enqueue(job writeJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	select {
	case w.jobs <- job:
		w.pending++
		return true
	default:
	}

	w.metrics.RecordDiskWrite(metrics.ResultDropped)
	w.logger.WithFields(logging.ImageFields("disk_write", job.url, job.key)).
		Warn("disk_write_queue_full")
	return false
}

func (w *diskWriter) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.write(job)

		w.mu.Lock()
		w.pending--
		if w.pending == 0 {
			w.idle.Broadcast()
		}
		w.mu.Unlock()
	}
}

func (w *diskWriter) write(job writeJob) {
	fields := logging.ImageFields("disk_write", job.url, job.key)

	data, err := job.img.JPEG(w.quality)
	if err != nil {
		w.metrics.RecordDiskWrite(metrics.ResultError)
		w.logger.WithFields(fields).WithError(err).Warn("disk_encode_failed")
		return
	}
	entry, err := w.store.Put(context.Background(), job.key, bytes.NewReader(data))
	if err != nil {
		w.metrics.RecordDiskWrite(metrics.ResultError)
		w.logger.WithFields(fields).WithError(err).Warn("disk_write_failed")
		return
	}
	w.metrics.RecordDiskWrite(metrics.ResultOK)
	w.logger.WithFields(fields).WithField("size_bytes", entry.SizeBytes).Debug("disk_write_done")
}

// flush 阻塞直到所有已入队的写盘完成。
func (w *diskWriter) flush() {
	w.mu.Lock()
	for w.pending > 0 {
		w.idle.Wait()
	}
	w.mu.Unlock()
}

// close 停止接收新任务并等待 worker 排空队列，可重复调用。
func (w *diskWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.wg.Wait()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}
