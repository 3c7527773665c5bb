package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gallerysync/pkg/config"
	"gallerysync/pkg/gallery"
	"gallerysync/pkg/gallery/cache"
	"gallerysync/pkg/index"
	"gallerysync/pkg/journal"
	"gallerysync/pkg/library"
	"gallerysync/pkg/pipeline"
	"gallerysync/pkg/storage"
	"gallerysync/pkg/storage/disk"
	"gallerysync/pkg/storage/s3"
	"gallerysync/pkg/types"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Settings config.Settings

	Store   storage.Store
	Client  *gallery.Client // 原始 Piwigo 客户端
	Gallery gallery.Gallery // 可能带 Redis 缓存
	Journal *journal.Repository
	Index   *index.Index // 指纹缓存，可能为 nil

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	s := config.Current()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{Settings: s}

	// 1. 媒体库存储 (本地目录 或 S3)
	store, err := initStore(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	a.Store = store

	// 2. 远端客户端
	client, err := gallery.NewClient(gallery.Config{
		URL:       s.Gallery.URL,
		Timeout:   s.Gallery.Timeout,
		RateLimit: s.Gallery.RateLimit,
		Burst:     s.Gallery.Burst,
	})
	if err != nil {
		return nil, err
	}
	a.Client = client
	a.Gallery = client

	// 3. 可选的存在性缓存；Redis 连不上时降级为无缓存
	if s.Cache.RedisURL != "" {
		cached, err := cache.NewCachedGallery(client, cache.Config{RedisURL: s.Cache.RedisURL, TTL: s.Cache.TTL})
		if err != nil {
			slog.WarnContext(ctx, "existence cache disabled", slog.String("err", err.Error()))
		} else {
			a.Gallery = cached
			a.closers = append(a.closers, cached.Close)
		}
	}

	// 4. 可选的指纹缓存
	if s.Hash.Index != "" && s.Hash.Index != "none" {
		idx, err := index.NewIndex(s.Hash.Index)
		if err != nil {
			// 缓存损坏不影响同步，只是要重新计算；保存时覆盖坏文件
			slog.WarnContext(ctx, "fingerprint index reset", slog.String("path", s.Hash.Index), slog.String("err", err.Error()))
			idx = index.Empty(s.Hash.Index)
		}
		a.Index = idx
	}

	// 5. 可选的运行日志
	repo, db, err := initJournal(ctx, s.Journal)
	if err != nil {
		a.Close()
		return nil, err
	}
	if repo != nil {
		a.Journal = repo
		a.closers = append(a.closers, db.Close)
	}

	return a, nil
}

// Login 打印服务端版本并登录
func (a *App) Login(ctx context.Context) (string, error) {
	version, err := a.Gallery.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to reach gallery: %w", err)
	}
	if err := a.Gallery.Login(ctx, a.Settings.Gallery.User, a.Settings.Gallery.Password); err != nil {
		return version, fmt.Errorf("login failed: %w", err)
	}
	return version, nil
}

// Library 返回媒体库资产来源
func (a *App) Library() *library.Library {
	return library.New(a.Store, library.Options{SkipFolders: a.Settings.Library.SkipFolders})
}

// Pipeline 按配置组装同步流水线
func (a *App) Pipeline() *pipeline.Pipeline {
	deps := pipeline.Deps{Gallery: a.Gallery, Store: a.Store}
	if a.Journal != nil {
		deps.Uploads = a.Journal
	}
	if a.Index != nil {
		deps.Fingerprints = a.Index
	}
	return pipeline.New(deps, pipelineConfig(a.Settings))
}

// SaveIndex 清理已经不在媒体库里的记录并持久化指纹缓存
func (a *App) SaveIndex(ctx context.Context) error {
	if a.Index == nil {
		return nil
	}
	keys, err := a.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list library for index pruning: %w", err)
	}
	if n := a.Index.Prune(keys); n > 0 {
		slog.DebugContext(ctx, "fingerprint index pruned", slog.Int("removed", n))
	}
	return a.Index.Save()
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func pipelineConfig(s config.Settings) pipeline.Config {
	return pipeline.Config{
		HashWorkers:      s.Hash.Workers,
		UploadWorkers:    s.Upload.Workers,
		ReconcileWorkers: s.Reconcile.Workers,
		MaxBatch:         s.Check.MaxBatch,
		Retries:          s.Check.Retries,
		RetryInterval:    s.Check.RetryInterval,
		ChunkSize:        s.Upload.ChunkSize,
		DefaultAlbum:     types.AlbumID(s.Upload.DefaultAlbum),
	}
}

// initStore 根据配置选择存储后端
// 配置了 library.bucket 就用 S3，否则用本地目录
func initStore(ctx context.Context, s config.Settings) (storage.Store, error) {
	if s.Library.Bucket != "" {
		return s3.NewAdapter(ctx, s3.Config{
			Endpoint:        s.S3.Endpoint,
			Region:          s.S3.Region,
			Bucket:          s.Library.Bucket,
			Prefix:          s.Library.Prefix,
			AccessKeyID:     s.S3.AccessKey,
			SecretAccessKey: s.S3.SecretKey,
		})
	}
	if s.Library.Root == "" {
		return nil, errors.New("library root is required")
	}
	return disk.NewAdapter(s.Library.Root)
}

func initJournal(ctx context.Context, s config.JournalSettings) (*journal.Repository, *journal.DB, error) {
	if s.Driver == "none" {
		return nil, nil, nil
	}
	if s.Driver == "sqlite" && s.DSN != "" && s.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.DSN), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}
	db, err := journal.Open(ctx, journal.Config{Driver: s.Driver, DSN: s.DSN})
	if err != nil {
		return nil, nil, err
	}
	return journal.NewRepository(db), db, nil
}
