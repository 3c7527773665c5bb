// Package album 维护本地相册路径到远端相册 id 的映射
package album

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gallerysync/pkg/gallery"
	"gallerysync/pkg/types"
)

// ErrCreate 是所有相册创建失败的公共哨兵
var ErrCreate = errors.New("album create failed")

// CreateError 指出是哪一级前缀创建失败
type CreateError struct {
	Path types.AlbumPath // 失败的那一级，而不是调用方传入的完整路径
	Err  error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("failed to create album %q: %v", e.Path.String(), e.Err)
}

func (e *CreateError) Unwrap() []error { return []error{ErrCreate, e.Err} }

// Creator 是 Directory 需要的唯一远端能力
type Creator interface {
	CreateAlbum(ctx context.Context, name string, parent *types.AlbumID) (types.AlbumID, error)
}

// Directory 是 AlbumPath -> AlbumID 的映射表
// 不变量：任何路径插入之前，它的所有真前缀都已经在表里
type Directory struct {
	remote Creator

	// mu 同时保护读和 “检查-创建-写入” 序列
	// 远端 create 不是幂等的，重复创建只能靠这把锁避免
	mu      sync.RWMutex
	ids     map[string]types.AlbumID
	paths   map[string]types.AlbumPath
	created int
}

func NewDirectory(remote Creator) *Directory {
	return &Directory{
		remote: remote,
		ids:    make(map[string]types.AlbumID),
		paths:  make(map[string]types.AlbumPath),
	}
}

// Load 把远端相册树展开成路径表
// 同一父相册下的同名相册只保留第一个
func (d *Directory) Load(tree []gallery.Category) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gallery.Walk(tree, func(p types.AlbumPath, c gallery.Category) {
		key := p.Key()
		if existing, ok := d.ids[key]; ok {
			slog.Debug("duplicate remote album name, keeping first",
				slog.String("path", p.String()),
				slog.Int64("kept", int64(existing)),
				slog.Int64("ignored", int64(c.ID)))
			return
		}
		d.ids[key] = c.ID
		d.paths[key] = p
	})
}

// Resolve 只读查询，不会触发远端调用
func (d *Directory) Resolve(p types.AlbumPath) (types.AlbumID, bool) {
	if len(p) == 0 {
		return 0, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[p.Key()]
	return id, ok
}

// Ensure 返回路径对应的 id，必要时从最短的缺失前缀开始逐级创建
// 失败时已创建的前缀保留在表里，下次调用不会重复创建
func (d *Directory) Ensure(ctx context.Context, p types.AlbumPath) (types.AlbumID, error) {
	if len(p) == 0 {
		return 0, errors.New("cannot ensure an empty album path")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, prefix := range p.Prefixes() {
		key := prefix.Key()

		// 1. 已存在：继续向下走
		if _, ok := d.ids[key]; ok {
			continue
		}

		// 2. 缺失：在上一级下面创建；上一级一定已经在表里
		var parent *types.AlbumID
		if !prefix.IsRoot() {
			pid := d.ids[prefix.Parent().Key()]
			parent = &pid
		}
		id, err := d.remote.CreateAlbum(ctx, prefix.Name(), parent)
		if err != nil {
			return 0, &CreateError{Path: prefix, Err: err}
		}
		d.ids[key] = id
		d.paths[key] = prefix
		d.created++

		slog.InfoContext(ctx, "album created",
			slog.String("path", prefix.String()),
			slog.Int64("id", int64(id)))
	}

	return d.ids[p.Key()], nil
}

// EnsureAll 依次确保每个路径存在
// 一个路径失败不影响无关路径，所有失败合并返回
func (d *Directory) EnsureAll(ctx context.Context, paths []types.AlbumPath) error {
	// 去重 + 排序，保证创建顺序确定
	uniq := make(map[string]types.AlbumPath, len(paths))
	for _, p := range paths {
		if len(p) > 0 {
			uniq[p.Key()] = p
		}
	}
	keys := make([]string, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := d.Ensure(ctx, uniq[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}

// Created 返回本次运行中新建的相册数量
func (d *Directory) Created() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.created
}

// Paths 返回所有已知路径，按字典序
func (d *Directory) Paths() []types.AlbumPath {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.AlbumPath, 0, len(d.paths))
	for _, p := range d.paths {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
