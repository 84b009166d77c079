package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient 是 Redis 后端用到的命令子集（*redis.Client 满足该接口；测试可替换）。
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis 使用 SET key value EX ttl 写入；过期由 Redis 负责。
type Redis struct {
	c redisClient
}

// OpenRedis 解析 redis:// 或 rediss:// URL 并 PING 一次。
func OpenRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Redis{c: c}, nil
}

func (b *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (b *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return b.c.Set(ctx, key, val, ttl).Err()
}

func (b *Redis) Close() error { return b.c.Close() }
