// Package pipeline 实现本地媒体库到远端相册的同步流水线：
//
//	Source -> hash -> check -> upload -> reconcile
//	                       \_____________/
//
// 远端已存在的内容跳过 upload，直接进入 reconcile
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gallerysync/pkg/album"
	"gallerysync/pkg/chunker"
	"gallerysync/pkg/core"
	"gallerysync/pkg/gallery"
	"gallerysync/pkg/library"
	"gallerysync/pkg/storage"
	"gallerysync/pkg/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config 控制各个 stage 的并发度和策略
type Config struct {
	HashWorkers      int
	UploadWorkers    int
	ReconcileWorkers int

	// MaxBatch 是一次存在性查询的最大指纹数
	MaxBatch int
	// Retries 是批量查询失败后的额外重试次数
	Retries       int
	RetryInterval time.Duration

	ChunkSize    int
	DefaultAlbum types.AlbumID

	// QueueSize 是每个队列的缓冲区大小
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		HashWorkers:      1,
		UploadWorkers:    10,
		ReconcileWorkers: 10,
		MaxBatch:         500,
		Retries:          3,
		RetryInterval:    500 * time.Millisecond,
		ChunkSize:        chunker.DefaultSize,
		DefaultAlbum:     1,
		QueueSize:        1024,
	}
}

// normalize 用默认值补齐非法配置
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.HashWorkers <= 0 {
		c.HashWorkers = d.HashWorkers
	}
	if c.UploadWorkers <= 0 {
		c.UploadWorkers = d.UploadWorkers
	}
	if c.ReconcileWorkers <= 0 {
		c.ReconcileWorkers = d.ReconcileWorkers
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = d.MaxBatch
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.DefaultAlbum <= 0 {
		c.DefaultAlbum = d.DefaultAlbum
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Deps 是流水线依赖的外部协作者
type Deps struct {
	Gallery gallery.Gallery
	Store   storage.Store
	// Uploads 可选，为 nil 时不记录上传
	Uploads UploadRecorder
	// Fingerprints 可选，为 nil 时每次都重新计算指纹
	Fingerprints FingerprintCache
}

type Pipeline struct {
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) *Pipeline {
	return &Pipeline{deps: deps, cfg: cfg.normalize()}
}

func (p *Pipeline) Config() Config { return p.cfg }

// Run 执行一次完整的同步
//
// 单个条目的失败只记录在 Report 里，不会让 Run 返回错误；
// 返回错误的情况只有：无法列出远端相册、无法列出本地资产、ctx 被取消。
// 取消时依然返回已经完成部分的 Report。
func (p *Pipeline) Run(ctx context.Context, src library.Source) (*Report, error) {
	rec := &recorder{}
	rec.rep.RunID = uuid.NewString()
	rec.rep.StartedAt = time.Now()

	finish := func() *Report {
		rep := rec.snapshot()
		rep.FinishedAt = time.Now()
		return rep
	}

	// 1. 远端相册目录
	tree, err := p.deps.Gallery.ListAlbums(ctx)
	if err != nil {
		return finish(), fmt.Errorf("failed to list remote albums: %w", err)
	}
	dir := album.NewDirectory(p.deps.Gallery)
	dir.Load(tree)

	// 2. 本地资产
	assets, err := src.List(ctx)
	if err != nil {
		return finish(), fmt.Errorf("failed to list assets: %w", err)
	}
	slog.InfoContext(ctx, "library loaded", slog.Int("assets", len(assets)), slog.Int("remote_albums", dir.Len()))

	// 3. 补齐缺失的相册 (先祖先后子孙)
	failedAlbums := p.ensureAlbums(ctx, dir, library.Albums(assets), rec)
	rec.update(func(r *Report) {
		r.Assets = len(assets)
		r.AlbumsKnown = dir.Len()
		r.AlbumsCreated = dir.Created()
	})

	// 4. 流水线
	p.stream(ctx, rec, dir, failedAlbums, expand(assets))

	rep := finish()
	slog.InfoContext(ctx, "sync finished",
		slog.String("run", rep.RunID),
		slog.Int("uploaded", rep.Uploaded),
		slog.Int("reconciled", rep.Reconciled),
		slog.Int("failed", rep.Failed),
		slog.Duration("dur", rep.Duration()))

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// ensureAlbums 逐个确保相册存在，返回失败的路径
func (p *Pipeline) ensureAlbums(ctx context.Context, dir *album.Directory, paths []types.AlbumPath, rec *recorder) map[string]error {
	failed := make(map[string]error)
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		if _, err := dir.Ensure(ctx, path); err != nil {
			slog.ErrorContext(ctx, "failed to ensure album", slog.String("path", path.String()), slog.String("err", err.Error()))
			failed[path.Key()] = err
			rec.fail(&StageError{Stage: StageAlbums, Variant: path.String(), Err: err})
		}
	}
	return failed
}

// expand 把资产展开成 (asset, variant) 条目
func expand(assets []core.Asset) []Item {
	var items []Item
	for _, a := range assets {
		for _, v := range a.Variants {
			items = append(items, Item{Asset: a, Variant: v})
		}
	}
	return items
}

// stream 启动所有 worker，喂入条目，然后按流水线顺序等待每个队列排空
func (p *Pipeline) stream(ctx context.Context, rec *recorder, dir *album.Directory, failedAlbums map[string]error, items []Item) {
	hashQ := NewQueue("hash", p.cfg.QueueSize)
	checkQ := NewQueue("check", p.cfg.QueueSize)
	uploadQ := NewQueue("upload", p.cfg.QueueSize)
	reconcileQ := NewQueue("reconcile", p.cfg.QueueSize)

	hasher := newHashStage(rec, hashQ, checkQ, p.deps.Store, p.deps.Fingerprints)
	checker := newCheckStage(rec, checkQ, uploadQ, reconcileQ, p.deps.Gallery, p.cfg)
	uploader := newUploadStage(rec, uploadQ, reconcileQ, p.deps.Store, p.deps.Gallery, p.cfg, rec.rep.RunID, p.deps.Uploads)
	reconciler := newReconcileStage(rec, reconcileQ, p.deps.Gallery, dir, failedAlbums)

	var g errgroup.Group
	spawn := func(n int, fn func(context.Context)) {
		for i := 0; i < n; i++ {
			g.Go(func() error {
				fn(ctx)
				return nil
			})
		}
	}
	spawn(p.cfg.HashWorkers, hasher.run)
	spawn(1, checker.run) // 批处理本身就是串行的
	spawn(p.cfg.UploadWorkers, uploader.run)
	spawn(p.cfg.ReconcileWorkers, reconciler.run)

	// 1. 喂入；取消后剩下的条目直接记为 Cancelled
	rec.update(func(r *Report) { r.Discovered = len(items) })
	for i, it := range items {
		if ctx.Err() != nil {
			left := len(items) - i
			rec.update(func(r *Report) { r.Cancelled += left })
			break
		}
		hashQ.Put(it)
	}

	// 2. 栅栏：上游排空之后才能关闭下游
	for _, q := range []*Queue{hashQ, checkQ, uploadQ, reconcileQ} {
		q.Wait()
		q.Close()
		slog.InfoContext(ctx, "stage drained", slog.String("stage", q.Name()))
	}

	_ = g.Wait()
}
