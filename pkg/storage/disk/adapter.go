package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gallerysync/pkg/storage"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath string // 比如: /Users/me/Pictures/Library
}

// NewAdapter 创建一个新的磁盘存储适配器
// 与写入型存储不同，媒体库根目录必须已经存在
func NewAdapter(root string) (*Adapter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("library root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root %s is not a directory", abs)
	}
	return &Adapter{rootPath: abs}, nil
}

func (s *Adapter) Root() string { return s.rootPath }

// layout 返回 key 对应的物理路径
// key 总是相对于根目录的 slash 路径，不允许逃逸出根目录
func (s *Adapter) layout(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q: outside library root", key)
	}
	return filepath.Join(s.rootPath, clean), nil
}

func (s *Adapter) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(targetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stat 返回文件大小和修改时间
func (s *Adapter) Stat(ctx context.Context, key string) (storage.Info, error) {
	targetPath, err := s.layout(key)
	if err != nil {
		return storage.Info{}, err
	}
	fi, err := os.Stat(targetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.Info{}, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Info{}, err
	}
	return storage.Info{Key: key, Size: fi.Size(), ModifiedAt: fi.ModTime()}, nil
}

// List 遍历根目录下所有普通文件
// 符号链接和目录本身不算文件
func (s *Adapter) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.rootPath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
