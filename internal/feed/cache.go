package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/feedsync/internal/model"
)

const resolveCacheKeyPrefix = "feedsync:resolve:"

// ResolveCache はフィード検出結果のキャッシュ。
// キャッシュの失敗は検出処理を止めず、ミスとして扱う。
type ResolveCache interface {
	Get(ctx context.Context, key string) ([]model.ResolvedFeed, bool)
	Set(ctx context.Context, key string, feeds []model.ResolvedFeed)
}

// RedisCache はRedisを使用したResolveCacheの実装。
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache はredis://形式のURLからRedisCacheを生成し、疎通を確認する。
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl, logger), nil
}

// NewRedisCacheWithClient は既存のクライアントからRedisCacheを生成する。
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]model.ResolvedFeed, bool) {
	data, err := c.client.Get(ctx, resolveCacheKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("検出キャッシュの取得に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	var feeds []model.ResolvedFeed
	if err := json.Unmarshal(data, &feeds); err != nil {
		return nil, false
	}
	return feeds, true
}

func (c *RedisCache) Set(ctx context.Context, key string, feeds []model.ResolvedFeed) {
	data, err := json.Marshal(feeds)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, resolveCacheKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("検出キャッシュの保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Ping はRedisの疎通を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close はRedisクライアントを閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}
