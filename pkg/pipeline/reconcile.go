package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gallerysync/pkg/album"
	"gallerysync/pkg/gallery"
	"gallerysync/pkg/types"
)

// reconcileStage 让远端图片的相册归属覆盖本地已知的归属
// 只增不减：已有的归属永远不会被移除
type reconcileStage struct {
	base
	in     *Queue
	remote gallery.Gallery
	dir    *album.Directory

	// failedAlbums 在启动前确定，运行中只读
	failedAlbums map[string]error

	locks keyedMutex
}

func newReconcileStage(rep *recorder, in *Queue, remote gallery.Gallery, dir *album.Directory, failedAlbums map[string]error) *reconcileStage {
	return &reconcileStage{
		base:         base{stage: StageReconcile, rep: rep},
		in:           in,
		remote:       remote,
		dir:          dir,
		failedAlbums: failedAlbums,
	}
}

func (s *reconcileStage) run(ctx context.Context) {
	s.serve(ctx, s.in, s.handle)
}

// desired 把本地相册映射成远端 id
// 不在目录里的路径直接丢弃；依赖的相册创建失败则整个条目失败
func (s *reconcileStage) desired(it Item) ([]types.AlbumID, error) {
	seen := make(map[types.AlbumID]struct{})
	var out []types.AlbumID
	for _, p := range it.Asset.Albums {
		if err, failed := s.failedAlbums[p.Key()]; failed {
			return nil, err
		}
		id, ok := s.dir.Resolve(p)
		if !ok {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *reconcileStage) handle(ctx context.Context, it Item) {
	desired, err := s.desired(it)
	if err != nil {
		s.fail(ctx, it, err)
		return
	}
	if len(desired) == 0 {
		s.rep.update(func(r *Report) { r.Unchanged++ })
		return
	}

	// 同一个远端图片可能被多个条目引用 (内容相同)，读-改-写必须串行
	unlock := s.locks.lock(it.RemoteID)
	defer unlock()

	info, err := s.remote.AssetInfo(ctx, it.RemoteID)
	if err != nil {
		s.failOrCancel(ctx, it, fmt.Errorf("%w: get info %d: %w", ErrReconcile, it.RemoteID, err))
		return
	}

	union, changed := mergeCategories(info.Categories, desired)
	if !changed {
		slog.DebugContext(ctx, "albums already up to date",
			slog.String("file", it.Variant.Path),
			slog.Int64("id", int64(it.RemoteID)))
		s.rep.update(func(r *Report) { r.Unchanged++ })
		return
	}

	if err := s.remote.SetAssetCategories(ctx, it.RemoteID, union); err != nil {
		s.failOrCancel(ctx, it, fmt.Errorf("%w: set categories %d: %w", ErrReconcile, it.RemoteID, err))
		return
	}

	slog.InfoContext(ctx, "albums updated",
		slog.String("file", it.Variant.Path),
		slog.Int64("id", int64(it.RemoteID)),
		slog.Any("categories", union))
	s.rep.update(func(r *Report) { r.Reconciled++ })
}

// mergeCategories 返回 current ∪ desired (升序)
// changed 为 false 表示 desired 已经是 current 的子集
func mergeCategories(current, desired []types.AlbumID) ([]types.AlbumID, bool) {
	set := make(map[types.AlbumID]struct{}, len(current)+len(desired))
	for _, id := range current {
		set[id] = struct{}{}
	}

	changed := false
	for _, id := range desired {
		if _, ok := set[id]; !ok {
			set[id] = struct{}{}
			changed = true
		}
	}
	if !changed {
		return nil, false
	}

	union := make([]types.AlbumID, 0, len(set))
	for id := range set {
		union = append(union, id)
	}
	sort.Slice(union, func(i, j int) bool { return union[i] < union[j] })
	return union, true
}

// keyedMutex 按远端图片 id 加锁，锁在无人使用时被回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[types.AssetID]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id types.AssetID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[types.AssetID]*refLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
