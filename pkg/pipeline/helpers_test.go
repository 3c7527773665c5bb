package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gallerysync/pkg/core"
	"gallerysync/pkg/gallery/gallerytest"
	"gallerysync/pkg/storage/disk"
	"gallerysync/pkg/types"

	"github.com/stretchr/testify/require"
)

// staticSource 直接返回固定的资产列表
type staticSource []core.Asset

func (s staticSource) List(context.Context) ([]core.Asset, error) { return s, nil }

// env 是一个测试用的完整环境：临时媒体库 + 内存 Gallery
type env struct {
	t     *testing.T
	root  string
	store *disk.Adapter
	fake  *gallerytest.Fake
	cfg   Config
	cache FingerprintCache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	store, err := disk.NewAdapter(root)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ChunkSize = 16
	cfg.RetryInterval = time.Millisecond
	cfg.UploadWorkers = 4
	cfg.ReconcileWorkers = 4

	return &env{t: t, root: root, store: store, fake: gallerytest.New(), cfg: cfg}
}

// file 写入一个文件，返回它的指纹
func (e *env) file(key, content string) types.Fingerprint {
	e.t.Helper()
	p := filepath.Join(e.root, filepath.FromSlash(key))
	require.NoError(e.t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(e.t, os.WriteFile(p, []byte(content), 0644))
	fp, _, err := core.CalculateFingerprint(strings.NewReader(content))
	require.NoError(e.t, err)
	return fp
}

// asset 构造一个只有原图的资产
func asset(id, key string, albums ...types.AlbumPath) core.Asset {
	return core.Asset{
		ID:       id,
		Variants: []core.Variant{{Kind: core.VariantOriginal, Path: key}},
		Filename: filepath.Base(key),
		Albums:   albums,
	}
}

func (e *env) pipeline() *Pipeline {
	return New(Deps{Gallery: e.fake, Store: e.store, Fingerprints: e.cache}, e.cfg)
}

func (e *env) run(assets ...core.Asset) *Report {
	e.t.Helper()
	rep, err := e.pipeline().Run(context.Background(), staticSource(assets))
	require.NoError(e.t, err)
	return rep
}

// memCache 是一个内存版的 FingerprintCache
type memCache struct {
	mu   sync.Mutex
	m    map[string]cacheEntry
	adds int
}

type cacheEntry struct {
	fp   types.Fingerprint
	size int64
	mod  time.Time
}

func newMemCache() *memCache { return &memCache{m: make(map[string]cacheEntry)} }

func (c *memCache) Lookup(path string, size int64, mod time.Time) (types.Fingerprint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[path]
	if !ok || e.size != size || !e.mod.Equal(mod) {
		return "", false
	}
	return e.fp, true
}

func (c *memCache) Add(path string, fp types.Fingerprint, size int64, mod time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[path] = cacheEntry{fp: fp, size: size, mod: mod}
	c.adds++
}
