// internal/service/seckill/infrastructure/debounce_redis.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"

	pkgredis "flashmart/internal/pkg/redis"
)

// RedisDebouncer 用 SETNX + TTL 实现窗口内只放行一次。
type RedisDebouncer struct {
	client *pkgredis.Client
}

func NewRedisDebouncer(client *pkgredis.Client) *RedisDebouncer {
	return &RedisDebouncer{client: client}
}

func (d *RedisDebouncer) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.GetClient().SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "debounce setnx")
	}
	return ok, nil
}
