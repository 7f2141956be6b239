// internal/pkg/lock/redis_lock.go
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// 释放和续约都必须校验 token，保证只有当前持有者能操作这把锁。
var releaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`)

var extendScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('pexpire', KEYS[1], ARGV[2])
else
    return 0
end
`)

// redisAPI 是 RedisManager 用到的命令子集，*goredis.Client 天然满足。
// 单独抽出来是为了测试时可以替换。
type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *goredis.Cmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
	EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
	EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *goredis.Cmd
	ScriptExists(ctx context.Context, hashes ...string) *goredis.BoolSliceCmd
	ScriptLoad(ctx context.Context, script string) *goredis.StringCmd
}

// RedisManager 用 SET NX EX 实现租约锁。
// 租约到期后键自动消失，崩溃的持有者不会造成死锁。
type RedisManager struct {
	rdb redisAPI

	// wait 为 0 时拿不到锁立刻返回 ErrBusy；
	// 否则在 wait 窗口内按 retryDelay 轮询。
	wait       time.Duration
	retryDelay time.Duration
}

func NewRedisManager(rdb redisAPI, wait, retryDelay time.Duration) *RedisManager {
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &RedisManager{rdb: rdb, wait: wait, retryDelay: retryDelay}
}

func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(m.wait)

	for {
		ok, err := m.rdb.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "lock: setnx failed")
		}
		if ok {
			return &Lease{Key: key, Token: token, TTL: ttl}, nil
		}

		if m.wait <= 0 || time.Now().After(deadline) {
			return nil, ErrBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}
}

func (m *RedisManager) Release(ctx context.Context, lease *Lease) error {
	res, err := releaseScript.Run(ctx, m.rdb, []string{lockKeyPrefix + lease.Key}, lease.Token).Int64()
	if err != nil {
		return errors.Wrap(err, "lock: release script failed")
	}
	if res == 0 {
		return ErrLeaseExpired
	}
	return nil
}

func (m *RedisManager) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, m.rdb,
		[]string{lockKeyPrefix + lease.Key}, lease.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.Wrap(err, "lock: extend script failed")
	}
	if res == 0 {
		return ErrLeaseExpired
	}
	lease.TTL = ttl
	return nil
}
