package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gallerysync/pkg/core"
	"gallerysync/pkg/storage"
	"gallerysync/pkg/types"
)

// FingerprintCache 记住上次计算过的指纹
// 只有大小和修改时间都没变时才命中
type FingerprintCache interface {
	Lookup(path string, size int64, modifiedAt time.Time) (types.Fingerprint, bool)
	Add(path string, fp types.Fingerprint, size int64, modifiedAt time.Time)
}

// hashStage 为每个 (asset, variant) 计算内容指纹
type hashStage struct {
	base
	in, out *Queue
	store   storage.Store
	cache   FingerprintCache // 可选

	mu   sync.Mutex
	seen map[string]struct{}
}

func newHashStage(rep *recorder, in, out *Queue, store storage.Store, cache FingerprintCache) *hashStage {
	return &hashStage{
		base:  base{stage: StageHash, rep: rep},
		in:    in,
		out:   out,
		store: store,
		cache: cache,
		seen:  make(map[string]struct{}),
	}
}

func (s *hashStage) run(ctx context.Context) {
	s.serve(ctx, s.in, s.handle)
}

// claim 保证同一个 (asset, variant) 在一次运行中只处理一次
func (s *hashStage) claim(it Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[it.key()]; dup {
		return false
	}
	s.seen[it.key()] = struct{}{}
	return true
}

func (s *hashStage) handle(ctx context.Context, it Item) {
	if !s.claim(it) {
		slog.DebugContext(ctx, "duplicate variant skipped", slog.String("file", it.Variant.Path))
		return
	}

	// 1. 缓存命中就不用读文件
	info, statted := s.stat(ctx, it.Variant.Path)
	if statted {
		if fp, ok := s.cache.Lookup(it.Variant.Path, info.Size, info.ModifiedAt); ok {
			it.Fingerprint = fp
			it.Size = info.Size
			s.rep.update(func(r *Report) {
				r.Hashed++
				r.HashCached++
			})
			slog.DebugContext(ctx, "fingerprint cached", slog.String("file", it.Variant.Path), slog.String("md5", fp.String()))
			s.out.Put(it)
			return
		}
	}

	// 2. 流式计算
	rc, err := s.store.Open(ctx, it.Variant.Path)
	if errors.Is(err, storage.ErrNotFound) {
		// 枚举之后文件被删掉了：本次无法同步，直接丢弃
		s.unavailable(ctx, it)
		return
	}
	if err != nil {
		s.failOrCancel(ctx, it, fmt.Errorf("%w: %w", ErrHash, err))
		return
	}
	defer rc.Close()

	fp, n, err := core.CalculateFingerprint(rc)
	if err != nil {
		s.failOrCancel(ctx, it, fmt.Errorf("%w: %w", ErrHash, err))
		return
	}

	it.Fingerprint = fp
	it.Size = n
	s.rep.update(func(r *Report) { r.Hashed++ })
	if statted && n == info.Size {
		s.cache.Add(it.Variant.Path, fp, info.Size, info.ModifiedAt)
	}

	slog.DebugContext(ctx, "hashed",
		slog.String("file", it.Variant.Path),
		slog.String("md5", fp.String()),
		slog.Int64("size", n))

	s.out.Put(it)
}

// stat 只有配置了缓存且 store 支持 Stat 时才有意义
func (s *hashStage) stat(ctx context.Context, key string) (storage.Info, bool) {
	if s.cache == nil {
		return storage.Info{}, false
	}
	st, ok := s.store.(storage.Statter)
	if !ok {
		return storage.Info{}, false
	}
	info, err := st.Stat(ctx, key)
	if err != nil {
		// 拿不到元数据就走正常计算，由 Open 报告真正的错误
		return storage.Info{}, false
	}
	return info, true
}

func (s *hashStage) unavailable(ctx context.Context, it Item) {
	slog.WarnContext(ctx, "file unavailable, skipped", slog.String("file", it.Variant.Path))
	s.rep.update(func(r *Report) { r.Unavailable++ })
}
