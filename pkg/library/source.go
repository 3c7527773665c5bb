// Package library 把一个存储后端 (本地目录或 S3 前缀) 解释为媒体库
//
// 目录结构即相册结构：
//
//	Trips/Paris/IMG_1.JPG          -> 相册 (Trips, Paris)
//	Trips/Paris/IMG_1_edited.JPG   -> IMG_1 的 edited 版本
//	Trips/Paris/IMG_1.JPG.title    -> IMG_1 的标题
//	Trips/Paris/IMG_1.JPG.albums   -> 额外的相册归属，每行一个 "A/B"
//	IMG_2.HEIC                     -> 没有相册
package library

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"gallerysync/pkg/core"
	"gallerysync/pkg/ignore"
	"gallerysync/pkg/storage"
	"gallerysync/pkg/types"

	"github.com/google/uuid"
)

const (
	editedSuffix = "_edited"
	titleExt     = ".title"
	albumsExt    = ".albums"

	// sidecar 文件只读这么多，防止误把大文件当成标题
	maxSidecarSize = 64 << 10
)

// namespace 用于从 key 派生稳定的 Asset ID
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gallerysync/library"))

// Source 是资产来源
// List 必须是可重复调用的、有限的，并且不返回被标记为缺失的资产
type Source interface {
	List(ctx context.Context) ([]core.Asset, error)
}

type Options struct {
	// SkipFolders 中的顶层目录不参与相册映射，里面的文件仍然会上传
	SkipFolders []string
	// Matcher 为 nil 时从 store 加载 .syncignore
	Matcher *ignore.Matcher
}

// Library 实现了 Source 接口
type Library struct {
	store   storage.Store
	matcher *ignore.Matcher
	skip    map[string]struct{}
}

var _ Source = (*Library)(nil)

func New(store storage.Store, opts Options) *Library {
	skip := make(map[string]struct{}, len(opts.SkipFolders))
	for _, f := range opts.SkipFolders {
		if f = strings.Trim(f, "/"); f != "" {
			skip[f] = struct{}{}
		}
	}
	return &Library{store: store, matcher: opts.Matcher, skip: skip}
}

// List 扫描整个库并组装资产
func (l *Library) List(ctx context.Context) ([]core.Asset, error) {
	matcher := l.matcher
	if matcher == nil {
		m, err := ignore.Load(ctx, l.store)
		if err != nil {
			return nil, err
		}
		matcher = m
	}

	keys, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}

	// 1. 分类：媒体文件 / sidecar
	media := make(map[string]struct{})
	titles := make(map[string]string) // 媒体 key -> sidecar key
	extras := make(map[string]string) // 媒体 key -> sidecar key
	for _, key := range keys {
		if matcher.Matches(key) {
			continue
		}
		switch path.Ext(key) {
		case titleExt:
			titles[strings.TrimSuffix(key, titleExt)] = key
		case albumsExt:
			extras[strings.TrimSuffix(key, albumsExt)] = key
		default:
			media[key] = struct{}{}
		}
	}

	// 2. edited 版本挂到对应的原图上
	editedOf := pairEdited(media)

	sorted := make([]string, 0, len(media))
	for key := range media {
		if _, isEdited := editedOf[key]; isEdited {
			continue
		}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	edits := make(map[string]string, len(editedOf))
	for edited, original := range editedOf {
		edits[original] = edited
	}

	// 3. 组装
	assets := make([]core.Asset, 0, len(sorted))
	for _, key := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a := core.Asset{
			ID:       uuid.NewSHA1(namespace, []byte(key)).String(),
			Variants: []core.Variant{{Kind: core.VariantOriginal, Path: key}},
			Filename: path.Base(key),
		}
		if edited, ok := edits[key]; ok {
			a.Variants = append(a.Variants, core.Variant{Kind: core.VariantEdited, Path: edited})
		}

		if sidecar, ok := titles[key]; ok {
			lines, err := l.readSidecar(ctx, sidecar)
			if err != nil {
				return nil, err
			}
			if len(lines) > 0 {
				a.Title = lines[0]
			}
		}

		albums := []types.AlbumPath{albumOf(key)}
		if sidecar, ok := extras[key]; ok {
			lines, err := l.readSidecar(ctx, sidecar)
			if err != nil {
				return nil, err
			}
			for _, line := range lines {
				albums = append(albums, ParseAlbumPath(line))
			}
		}
		a.Albums = l.scope(albums)

		assets = append(assets, a)
	}

	slog.DebugContext(ctx, "library scanned",
		slog.Int("keys", len(keys)),
		slog.Int("assets", len(assets)),
		slog.Int("edited", len(editedOf)))

	return assets, nil
}

// Albums 返回资产引用到的所有相册路径 (去重，按字典序)
func Albums(assets []core.Asset) []types.AlbumPath {
	seen := make(map[string]types.AlbumPath)
	for _, a := range assets {
		for _, p := range a.Albums {
			seen[p.Key()] = p
		}
	}
	out := make([]types.AlbumPath, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ParseAlbumPath 把 "A/B/C" 解析成路径，忽略空段
func ParseAlbumPath(s string) types.AlbumPath {
	var p types.AlbumPath
	for _, seg := range strings.Split(s, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			p = append(p, seg)
		}
	}
	return p
}

// scope 去掉空路径、跳过的顶层目录和重复路径
func (l *Library) scope(in []types.AlbumPath) []types.AlbumPath {
	var out []types.AlbumPath
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		if len(p) == 0 {
			continue
		}
		if _, skipped := l.skip[p[0]]; skipped {
			continue
		}
		if _, dup := seen[p.Key()]; dup {
			continue
		}
		seen[p.Key()] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (l *Library) readSidecar(ctx context.Context, key string) ([]string, error) {
	rc, err := l.store.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil // 列出之后被删掉了
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open sidecar %s: %w", key, err)
	}
	defer rc.Close()

	var lines []string
	sc := bufio.NewScanner(io.LimitReader(rc, maxSidecarSize))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sidecar %s: %w", key, err)
	}
	return lines, nil
}

// albumOf 返回 key 所在目录对应的相册路径；根目录下的文件返回 nil
func albumOf(key string) types.AlbumPath {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return nil
	}
	return types.AlbumPath(strings.Split(dir, "/"))
}

// pairEdited 找出所有 edited 文件，返回 edited key -> original key
// 原图与 edited 文件同目录同 stem，扩展名可以不同 (IMG_1.HEIC / IMG_1_edited.JPG)
// 找不到原图的 edited 文件按普通文件处理
func pairEdited(media map[string]struct{}) map[string]string {
	// dir/stem -> 原图 key 列表
	byStem := make(map[string][]string)
	for key := range media {
		stem := strings.TrimSuffix(key, path.Ext(key))
		if strings.HasSuffix(stem, editedSuffix) {
			continue
		}
		byStem[stem] = append(byStem[stem], key)
	}

	out := make(map[string]string)
	for key := range media {
		ext := path.Ext(key)
		stem := strings.TrimSuffix(key, ext)
		if !strings.HasSuffix(stem, editedSuffix) {
			continue
		}
		candidates := byStem[strings.TrimSuffix(stem, editedSuffix)]
		if len(candidates) == 0 {
			continue
		}
		sort.Strings(candidates)
		// 优先同扩展名
		original := candidates[0]
		for _, c := range candidates {
			if path.Ext(c) == ext {
				original = c
				break
			}
		}
		out[key] = original
	}
	return dedupeEdits(out)
}

// dedupeEdits 保证一个原图最多一个 edited 版本 (取字典序最小的)
func dedupeEdits(in map[string]string) map[string]string {
	best := make(map[string]string) // original -> edited
	for edited, original := range in {
		if cur, ok := best[original]; !ok || edited < cur {
			best[original] = edited
		}
	}
	out := make(map[string]string, len(best))
	for original, edited := range best {
		out[edited] = original
	}
	return out
}
