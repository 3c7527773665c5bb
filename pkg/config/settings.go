package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Settings 是 viper 配置的类型化快照
type Settings struct {
	Gallery   GallerySettings
	Library   LibrarySettings
	Hash      HashSettings
	Check     CheckSettings
	Upload    UploadSettings
	Reconcile WorkerSettings
	Cache     CacheSettings
	Journal   JournalSettings
	S3        S3Settings
	Log       LogSettings
}

type GallerySettings struct {
	URL       string
	User      string
	Password  string
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

type LibrarySettings struct {
	Root        string
	Bucket      string // 非空时从 S3 读取媒体库
	Prefix      string
	SkipFolders []string
}

type HashSettings struct {
	Workers int
	Index   string // 指纹缓存文件；"none" 表示不缓存
}

type WorkerSettings struct {
	Workers int
}

type CheckSettings struct {
	MaxBatch      int
	Retries       int
	RetryInterval time.Duration
}

type UploadSettings struct {
	Workers      int
	ChunkSize    int
	DefaultAlbum int64
}

type CacheSettings struct {
	RedisURL string
	TTL      time.Duration
}

type JournalSettings struct {
	Driver string // sqlite | postgres | none
	DSN    string
}

type S3Settings struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

type LogSettings struct {
	Level  string
	Format string
}

// Current 从 viper 读取当前配置
func Current() Settings {
	return Settings{
		Gallery: GallerySettings{
			URL:       viper.GetString("gallery.url"),
			User:      viper.GetString("gallery.user"),
			Password:  viper.GetString("gallery.password"),
			RateLimit: viper.GetFloat64("gallery.rate_limit"),
			Burst:     viper.GetInt("gallery.burst"),
			Timeout:   viper.GetDuration("gallery.timeout"),
		},
		Library: LibrarySettings{
			Root:        viper.GetString("library.root"),
			Bucket:      viper.GetString("library.bucket"),
			Prefix:      viper.GetString("library.prefix"),
			SkipFolders: viper.GetStringSlice("library.skip_folders"),
		},
		Hash: HashSettings{
			Workers: viper.GetInt("hash.workers"),
			Index:   viper.GetString("hash.index"),
		},
		Check: CheckSettings{
			MaxBatch:      viper.GetInt("check.max_batch"),
			Retries:       viper.GetInt("check.retries"),
			RetryInterval: viper.GetDuration("check.retry_interval"),
		},
		Upload: UploadSettings{
			Workers:      viper.GetInt("upload.workers"),
			ChunkSize:    viper.GetInt("upload.chunk_size"),
			DefaultAlbum: viper.GetInt64("upload.default_album"),
		},
		Reconcile: WorkerSettings{Workers: viper.GetInt("reconcile.workers")},
		Cache: CacheSettings{
			RedisURL: viper.GetString("cache.redis_url"),
			TTL:      viper.GetDuration("cache.ttl"),
		},
		Journal: JournalSettings{
			Driver: viper.GetString("journal.driver"),
			DSN:    viper.GetString("journal.dsn"),
		},
		S3: S3Settings{
			Endpoint:  viper.GetString("s3.endpoint"),
			Region:    viper.GetString("s3.region"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
		},
		Log: LogSettings{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}
}

// Validate 检查启动前就能发现的配置错误
func (s Settings) Validate() error {
	var errs []error

	if u, err := url.Parse(s.Gallery.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gallery.url %q is not a valid url", s.Gallery.URL))
	}
	if s.Library.Bucket == "" && s.Library.Root == "" {
		errs = append(errs, errors.New("either library.root or library.bucket is required"))
	}
	if s.Check.MaxBatch < 1 {
		errs = append(errs, errors.New("check.max_batch must be >= 1"))
	}
	if s.Check.Retries < 0 {
		errs = append(errs, errors.New("check.retries must be >= 0"))
	}
	if s.Upload.ChunkSize < 1 {
		errs = append(errs, errors.New("upload.chunk_size must be >= 1"))
	}
	if s.Upload.DefaultAlbum < 1 {
		errs = append(errs, errors.New("upload.default_album must be a valid album id"))
	}
	for key, n := range map[string]int{
		"hash.workers":      s.Hash.Workers,
		"upload.workers":    s.Upload.Workers,
		"reconcile.workers": s.Reconcile.Workers,
	} {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1", key))
		}
	}
	switch s.Journal.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported journal.driver %q", s.Journal.Driver))
	}

	return errors.Join(errs...)
}
