// Package index 持久化 "文件 -> 指纹" 的缓存
// 大小和修改时间都没变的文件不需要重新计算 md5
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gallerysync/pkg/types"
)

// Entry 代表缓存中的一条记录
type Entry struct {
	Path        string            `json:"path"`        // 媒体库 key (如 "Trips/Paris/IMG_1.JPG")
	Fingerprint types.Fingerprint `json:"fingerprint"` // 内容 md5
	Size        int64             `json:"size"`        // 计算指纹时的文件大小
	ModifiedAt  time.Time         `json:"modified_at"` // 计算指纹时的修改时间
}

// Index 管理指纹缓存
type Index struct {
	path    string           // 物理文件路径；为空时只在内存中
	Entries map[string]Entry `json:"entries"`
	mu      sync.RWMutex
	dirty   bool
}

// NewIndex 加载或创建一个新的 Index
func NewIndex(indexPath string) (*Index, error) {
	idx := &Index{
		path:    indexPath,
		Entries: make(map[string]Entry),
	}
	if indexPath == "" {
		return idx, nil
	}

	// 尝试加载现有文件
	data, err := os.ReadFile(indexPath)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("corrupted index file: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]Entry)
	}
	return idx, nil
}

// Empty 返回一个绑定到 indexPath 的空缓存，下一次 Save 会覆盖原文件
// 用于原文件损坏时重新开始
func Empty(indexPath string) *Index {
	return &Index{
		path:    indexPath,
		Entries: make(map[string]Entry),
		dirty:   indexPath != "",
	}
}

// Lookup 在大小和修改时间都匹配时返回缓存的指纹
func (i *Index) Lookup(path string, size int64, modifiedAt time.Time) (types.Fingerprint, bool) {
	key := CleanPath(path)
	i.mu.RLock()
	defer i.mu.RUnlock()

	e, ok := i.Entries[key]
	if !ok || e.Size != size || !e.ModifiedAt.Equal(modifiedAt) || !e.Fingerprint.IsValid() {
		return "", false
	}
	return e.Fingerprint, true
}

// Add 更新一条记录
func (i *Index) Add(path string, fp types.Fingerprint, size int64, modifiedAt time.Time) {
	key := CleanPath(path)
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Entries[key] = Entry{
		Path:        key,
		Fingerprint: fp,
		Size:        size,
		ModifiedAt:  modifiedAt.UTC(),
	}
	i.dirty = true
}

// Prune 删除不在 keep 里的记录 (媒体库里已经不存在的文件)，返回删除数量
func (i *Index) Prune(keep []string) int {
	live := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		live[CleanPath(k)] = struct{}{}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for k := range i.Entries {
		if _, ok := live[k]; !ok {
			delete(i.Entries, k)
			n++
		}
	}
	if n > 0 {
		i.dirty = true
	}
	return n
}

// Save 将缓存持久化到磁盘；没有修改时不写
// 先写临时文件再 rename，中途崩溃不会留下半个文件
func (i *Index) Save() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.path == "" || !i.dirty {
		return nil
	}

	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(i.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), i.path); err != nil {
		return err
	}
	i.dirty = false
	return nil
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.Entries)
}

func CleanPath(p string) string {
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
}
