package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

const tempPrefix = ".cache-"

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newFileStore(osfs.New(abs), abs), nil
}

func newFileStore(fsys billy.Filesystem, basePath string) *fileStore {
	return &fileStore{
		fs:       fsys,
		basePath: basePath,
		locks:    make(map[string]*entryLock),
	}
}

// fileStore 通过 entryLock 避免同一 key 并发写入，所有路径都相对 fs 根目录。
type fileStore struct {
	fs       billy.Filesystem
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}

	info, err := s.fs.Stat(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := s.fs.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

func (s *fileStore) Put(ctx context.Context, key string, body io.Reader) (*Entry, error) {
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}

	unlock := s.lockEntry(key)
	defer unlock()

	tempFile, err := s.fs.TempFile("", tempPrefix)
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.fs.Remove(tempName)
		return nil, err
	}

	if err := s.fs.Rename(tempName, key); err != nil {
		s.fs.Remove(tempName)
		return nil, err
	}

	info, err := s.fs.Stat(key)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		Key:       key,
		FilePath:  filepath.Join(s.basePath, key),
		SizeBytes: written,
		ModTime:   info.ModTime(),
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := s.fs.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// TotalSize 遍历目录累加常规文件大小，跳过正在写入的临时文件，复杂度 O(n)。
func (s *fileStore) TotalSize(ctx context.Context) (int64, error) {
	infos, err := s.fs.ReadDir(".")
	if err != nil {
		return 0, err
	}

	var total int64
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Clear 删除目录下所有条目（包括遗留的临时文件与子目录），保留根目录本身。
func (s *fileStore) Clear(ctx context.Context) error {
	infos, err := s.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.fs.MkdirAll(".", 0o755)
		}
		return err
	}

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := util.RemoveAll(s.fs, info.Name()); err != nil {
			return fmt.Errorf("remove %s: %w", info.Name(), err)
		}
	}
	return nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
