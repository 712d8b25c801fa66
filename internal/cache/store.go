package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理图片磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<key>    # 压缩后的图片正文
//
// 不维护任何索引文件，文件存在即视为命中；同一 key 总是对应同一 URL，覆盖写入是幂等的。
type Store interface {
	// Get 读取 key 对应的完整正文。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 写入正文并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, key string, body io.Reader) (*Entry, error)

	// Remove 删除正文文件，常用于清理无法解码的损坏条目。
	Remove(ctx context.Context, key string) error

	// TotalSize 汇总缓存目录下所有条目的字节数，仅用于诊断。
	TotalSize(ctx context.Context) (int64, error)

	// Clear 清空缓存目录，目录本身保留。
	Clear(ctx context.Context) error
}

// Entry 表示一次写入结果，包含相对缓存目录的文件名及文件信息。
type Entry struct {
	Key       string    `json:"key"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidKey 表示 key 不是 KeyFor 产出的格式，拒绝访问以防越出缓存目录。
	ErrInvalidKey = errors.New("invalid cache key")
)
