package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yk970217-wq/cleanbear/internal/config"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// Cache 路程缓存
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, minutes float64, ttl time.Duration) error
}

// NewRedisClient 创建并检查 Redis 连接
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// RedisCache 基于 Redis 的路程缓存
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Get 读取缓存；未命中返回 false
func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	v, err := c.client.Get(ctx, key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, key string, minutes float64, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, strconv.FormatFloat(minutes, 'f', -1, 64), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// CachedTimer 带缓存的路程查询；缓存异常时直接查询，失败值不写缓存
type CachedTimer struct {
	next        Timer
	cache       Cache
	ttl         time.Duration
	failMinutes float64
	observer    Observer
}

// NewCachedTimer 包装一个路程查询
func NewCachedTimer(next Timer, cache Cache, ttl time.Duration, failMinutes float64, observer Observer) *CachedTimer {
	if observer == nil {
		observer = nopObserver{}
	}
	return &CachedTimer{next: next, cache: cache, ttl: ttl, failMinutes: failMinutes, observer: observer}
}

// TravelMinutes 先查缓存，未命中时查询并回填
func (t *CachedTimer) TravelMinutes(ctx context.Context, from, to model.Location) float64 {
	if !from.HasCoordinates() || !to.HasCoordinates() {
		return t.next.TravelMinutes(ctx, from, to)
	}

	key := CacheKey(from, to)
	v, ok, err := t.cache.Get(ctx, key)
	switch {
	case err != nil:
		logger.WithContext(ctx).Warn().Err(err).Str("key", key).Msg("路程缓存读取失败")
	case ok:
		t.observer.RouteLookup(ResultCacheHit)
		return v
	}

	minutes := t.next.TravelMinutes(ctx, from, to)
	if minutes >= t.failMinutes {
		return minutes
	}
	if err := t.cache.Set(ctx, key, minutes, t.ttl); err != nil {
		logger.WithContext(ctx).Warn().Err(err).Str("key", key).Msg("路程缓存写入失败")
	}
	return minutes
}

// CacheKey 坐标保留 5 位小数（约 1 米）
func CacheKey(from, to model.Location) string {
	return fmt.Sprintf("cleanbear:route:%.5f,%.5f:%.5f,%.5f",
		from.Latitude, from.Longitude, to.Latitude, to.Longitude)
}
