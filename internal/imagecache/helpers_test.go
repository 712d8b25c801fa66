package imagecache

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shelfkeeper/photocache/internal/cache"
)

func testBitmap(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 120, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testBitmap(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testBitmap(w, h)))
	return buf.Bytes()
}

// pngHeaderOnly 只构造签名与 IHDR 块：文件只有几十字节，却声明了 w x h 的 RGBA 尺寸。
func pngHeaderOnly(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor + alpha

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func sizedImage(w, h int) *Image {
	return newImage(image.NewRGBA(image.Rect(0, 0, w, h)), "png")
}

// stubFetcher 记录调用次数，可选地在 gate 关闭前阻塞以模拟慢速上游。
type stubFetcher struct {
	calls atomic.Int64
	gate  chan struct{}

	mu     sync.Mutex
	body   []byte
	err    error
	byURL  map[string][]byte
	seenMu sync.Mutex
	seen   []string
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.calls.Add(1)
	f.seenMu.Lock()
	f.seen = append(f.seen, rawURL)
	f.seenMu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if body, ok := f.byURL[rawURL]; ok {
		return body, nil
	}
	return f.body, nil
}

func (f *stubFetcher) set(body []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
	f.err = err
}

// countingStore 包装真实磁盘存储并统计读写次数。
type countingStore struct {
	cache.Store
	gets atomic.Int64
	puts atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, key)
}

func (s *countingStore) Put(ctx context.Context, key string, body io.Reader) (*cache.Entry, error) {
	s.puts.Add(1)
	return s.Store.Put(ctx, key, body)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	return &countingStore{Store: store}
}

func newTestCache(t *testing.T, f *stubFetcher, store cache.Store, opts Options) *Cache {
	t.Helper()
	c := New(f, store, nil, nil, opts)
	t.Cleanup(c.Close)
	return c
}
