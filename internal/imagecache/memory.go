package imagecache

import (
	"sync"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore 是按最近使用淘汰的 key→Image 映射，同时受条目数与字节预算约束。
// 所有操作同步完成且不做 I/O。
type MemoryStore struct {
	mu         sync.Mutex
	items      *ttlcache.Cache[string, *Image]
	maxEntries int
	maxBytes   int64
	bytes      int64
	onEvict    func(n int)
}

// NewMemoryStore 创建内存层；maxEntries/maxBytes 小于等于 0 表示对应维度不设上限。
// onEvict 可为空，在因容量淘汰条目后同步调用。
func NewMemoryStore(maxEntries int, maxBytes int64, onEvict func(n int)) *MemoryStore {
	return &MemoryStore{
		// 条目永不过期，只按容量淘汰；Get 会把条目移到 LRU 头部。
		items:      ttlcache.New[string, *Image](),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		onEvict:    onEvict,
	}
}

// Get 返回 key 对应的图片并刷新其最近使用位置。
func (m *MemoryStore) Get(key string) (*Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.items.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Put 写入或替换条目，随后淘汰最久未使用的条目直到满足两项上限。
// 单张成本超过字节预算的图片不会进入内存层。
func (m *MemoryStore) Put(key string, img *Image) {
	if img == nil {
		return
	}
	cost := img.Cost()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBytes > 0 && cost > m.maxBytes {
		m.deleteLocked(key)
		return
	}

	if existing := m.items.Get(key); existing != nil {
		m.bytes -= existing.Value().Cost()
	}
	m.items.Set(key, img, ttlcache.NoTTL)
	m.bytes += cost

	evicted := 0
	for m.overLimitLocked() {
		victim, ok := m.oldestLocked()
		if !ok || victim == key {
			break
		}
		m.deleteLocked(victim)
		evicted++
	}
	if evicted > 0 && m.onEvict != nil {
		m.onEvict(evicted)
	}
}

// Clear 丢弃全部条目，用于内存压力信号与整体失效。
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items.DeleteAll()
	m.bytes = 0
}

// Len returns the number of cached images.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len()
}

// Bytes returns the summed Cost of cached images.
func (m *MemoryStore) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

func (m *MemoryStore) overLimitLocked() bool {
	if m.maxEntries > 0 && m.items.Len() > m.maxEntries {
		return true
	}
	return m.maxBytes > 0 && m.bytes > m.maxBytes
}

func (m *MemoryStore) oldestLocked() (string, bool) {
	var (
		key   string
		found bool
	)
	m.items.RangeBackwards(func(item *ttlcache.Item[string, *Image]) bool {
		key = item.Key()
		found = true
		return false
	})
	return key, found
}

func (m *MemoryStore) deleteLocked(key string) {
	item := m.items.Get(key, ttlcache.WithDisableTouchOnHit[string, *Image]())
	if item == nil {
		return
	}
	m.bytes -= item.Value().Cost()
	m.items.Delete(key)
}
