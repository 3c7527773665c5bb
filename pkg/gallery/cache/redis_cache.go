package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gallerysync/pkg/core"
	"gallerysync/pkg/gallery"
	"gallerysync/pkg/types"

	"github.com/redis/go-redis/v9"
)

// CachedGallery 是一个装饰器，它为 pwg.images.exist 添加 Redis 缓存层
// 只缓存“远端已存在”的结果；“不存在”每次都要问服务端
type CachedGallery struct {
	gallery.Gallery               // 被装饰的底层客户端，其余方法直接透传
	client          *redis.Client // Redis 客户端
	ttl             time.Duration // 缓存过期时间 (例如 24h)
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

// entry 是写进 Redis 的值 (CBOR 编码)
type entry struct {
	AssetID int64     `cbor:"1,keyasint"`
	SeenAt  time.Time `cbor:"2,keyasint"`
}

func NewCachedGallery(backend gallery.Gallery, cfg Config) (*CachedGallery, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(backend, client, cfg.TTL), nil
}

// NewWithClient 使用一个已有的 redis 客户端，不做连接检查
func NewWithClient(backend gallery.Gallery, client *redis.Client, ttl time.Duration) *CachedGallery {
	return &CachedGallery{Gallery: backend, client: client, ttl: ttl}
}

func (g *CachedGallery) Close() error { return g.client.Close() }

// cacheKey 生成 Redis Key，添加前缀防止冲突
func cacheKey(fp types.Fingerprint) string {
	return "gs:md5:" + fp.String()
}

// CheckExistence 优先查 Redis，只把未命中的指纹发给服务端
func (g *CachedGallery) CheckExistence(ctx context.Context, fps []types.Fingerprint) (map[types.Fingerprint]*types.AssetID, error) {
	out := make(map[types.Fingerprint]*types.AssetID, len(fps))
	if len(fps) == 0 {
		return out, nil
	}

	// 1. 批量查 Redis
	misses := fps
	if hits, err := g.lookup(ctx, fps); err != nil {
		// 缓存故障降级：Redis 挂了就当全部未命中
		slog.WarnContext(ctx, "existence cache unavailable", slog.String("err", err.Error()))
	} else {
		misses = make([]types.Fingerprint, 0, len(fps))
		for _, fp := range fps {
			if id, ok := hits[fp]; ok {
				v := id
				out[fp] = &v
				continue
			}
			misses = append(misses, fp)
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	// 2. 缓存未命中，查底层
	remote, err := g.Gallery.CheckExistence(ctx, misses)
	if err != nil {
		return nil, err
	}

	// 3. 回填正结果；服务端没有回答的指纹不放进结果，由调用方判定失败
	found := make(map[types.Fingerprint]types.AssetID)
	for _, fp := range misses {
		id, ok := remote[fp]
		if !ok {
			continue
		}
		out[fp] = id
		if id != nil {
			found[fp] = *id
		}
	}
	g.fill(ctx, found)

	return out, nil
}

// FinalizeUpload 上传成功后立即写缓存，下一次运行就不用再问服务端
func (g *CachedGallery) FinalizeUpload(ctx context.Context, req gallery.FinalizeRequest) (types.AssetID, error) {
	id, err := g.Gallery.FinalizeUpload(ctx, req)
	if err != nil {
		return 0, err
	}
	g.fill(ctx, map[types.Fingerprint]types.AssetID{req.Fingerprint: id})
	return id, nil
}

func (g *CachedGallery) lookup(ctx context.Context, fps []types.Fingerprint) (map[types.Fingerprint]types.AssetID, error) {
	keys := make([]string, len(fps))
	for i, fp := range fps {
		keys[i] = cacheKey(fp)
	}

	vals, err := g.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	hits := make(map[types.Fingerprint]types.AssetID)
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // nil = 未命中
		}
		var e entry
		if err := core.DecodeObject([]byte(s), &e); err != nil || e.AssetID <= 0 {
			// 坏数据当作未命中，后面会被覆盖
			continue
		}
		hits[fps[i]] = types.AssetID(e.AssetID)
	}
	return hits, nil
}

// fill 写缓存；错误只记日志，不影响主流程
func (g *CachedGallery) fill(ctx context.Context, found map[types.Fingerprint]types.AssetID) {
	if len(found) == 0 {
		return
	}
	now := time.Now().UTC()

	_, err := g.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for fp, id := range found {
			data, err := core.EncodeObject(entry{AssetID: int64(id), SeenAt: now})
			if err != nil {
				return err
			}
			p.Set(ctx, cacheKey(fp), data, g.ttl)
		}
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to fill existence cache", slog.Int("keys", len(found)), slog.String("err", err.Error()))
	}
}
