// internal/service/seckill/infrastructure/stock_redis.go
package infrastructure

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	pkgredis "flashmart/internal/pkg/redis"
	"flashmart/internal/service/seckill/domain"
)

const (
	stockKeyPrefix = "seckill:stock:"
	usersKeyPrefix = "seckill:users:"

	scriptTryDeduct = "seckill_try_deduct"
	scriptRestock   = "seckill_restock"
	scriptWarm      = "seckill_warm"
)

// 返回码约定：1 成功，0 库存不足，2 限购超额，-1 计数器未预热。
const (
	codeDeducted     = 1
	codeInsufficient = 0
	codeLimited      = 2
	codeNotWarmed    = -1
)

// tryDeductScript 在一次服务端执行里完成"存在性 + 限购 + 库存"三重检查和扣减。
// 任何检查失败都不产生副作用，并发请求看不到中间状态。
// KEYS[1] 库存计数器，KEYS[2] 用户已购哈希；ARGV[1] 数量，ARGV[2] 用户，ARGV[3] 限购。
const tryDeductScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1, 0}
end
local stock = tonumber(redis.call('GET', KEYS[1]))
local qty = tonumber(ARGV[1])
local limit = tonumber(ARGV[3])
local bought = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
if bought + qty > limit then
    return {2, stock}
end
if stock < qty then
    return {0, stock}
end
local remaining = redis.call('DECRBY', KEYS[1], qty)
redis.call('HINCRBY', KEYS[2], ARGV[2], qty)
return {1, remaining}
`

// restockScript 只在计数器存在时回补，防止给已下线的活动凭空造出库存。
const restockScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1, 0}
end
local remaining = redis.call('INCRBY', KEYS[1], tonumber(ARGV[1]))
return {1, remaining}
`

// warmScript 预热计数器并清空上一场活动残留的限购记录。
const warmScript = `
redis.call('SET', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`

// StockRedisAdapter 实现 port.DeductionScript，承载缓存侧的原子扣减。
type StockRedisAdapter struct {
	client *pkgredis.Client
}

func NewStockRedisAdapter(client *pkgredis.Client) (*StockRedisAdapter, error) {
	for name, content := range map[string]string{
		scriptTryDeduct: tryDeductScript,
		scriptRestock:   restockScript,
		scriptWarm:      warmScript,
	} {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, errors.Wrapf(err, "register stock script %s", name)
		}
	}
	return &StockRedisAdapter{client: client}, nil
}

func (a *StockRedisAdapter) TryDeduct(ctx context.Context, skuID, userID string, quantity, limit int64) (int64, error) {
	res, err := a.client.RunScript(ctx, scriptTryDeduct,
		[]string{stockKeyPrefix + skuID, usersKeyPrefix + skuID},
		quantity, userID, limit)
	if err != nil {
		return 0, errors.Wrap(err, "run deduction script")
	}
	code, remaining, err := parseScriptReply(res)
	if err != nil {
		return 0, err
	}
	switch code {
	case codeDeducted:
		return remaining, nil
	case codeInsufficient:
		return 0, domain.ErrInsufficientStock
	case codeLimited:
		return 0, domain.ErrPurchaseLimitExceeded
	case codeNotWarmed:
		return 0, domain.ErrNotWarmedUp
	default:
		return 0, fmt.Errorf("deduction script returned unknown code %d", code)
	}
}

func (a *StockRedisAdapter) Restock(ctx context.Context, skuID string, quantity int64) (int64, error) {
	res, err := a.client.RunScript(ctx, scriptRestock,
		[]string{stockKeyPrefix + skuID}, quantity)
	if err != nil {
		return 0, errors.Wrap(err, "run restock script")
	}
	code, remaining, err := parseScriptReply(res)
	if err != nil {
		return 0, err
	}
	if code == codeNotWarmed {
		return 0, domain.ErrNotWarmedUp
	}
	return remaining, nil
}

func (a *StockRedisAdapter) Warm(ctx context.Context, skuID string, quantity int64) error {
	_, err := a.client.RunScript(ctx, scriptWarm,
		[]string{stockKeyPrefix + skuID, usersKeyPrefix + skuID}, quantity)
	return errors.Wrap(err, "run warm script")
}

func (a *StockRedisAdapter) Retire(ctx context.Context, skuID string) error {
	return errors.Wrap(
		a.client.GetClient().Del(ctx, stockKeyPrefix+skuID, usersKeyPrefix+skuID).Err(),
		"retire stock counter")
}

func (a *StockRedisAdapter) Remaining(ctx context.Context, skuID string) (int64, error) {
	val, err := a.client.GetClient().Get(ctx, stockKeyPrefix+skuID).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, domain.ErrNotWarmedUp
		}
		return 0, errors.Wrap(err, "read stock counter")
	}
	return val, nil
}

// parseScriptReply 解析 {code, remaining} 形式的 Lua 返回值。
func parseScriptReply(res interface{}) (code, remaining int64, err error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply: %v", res)
	}
	code, ok1 := arr[0].(int64)
	remaining, ok2 := arr[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected script reply elements: %v", res)
	}
	return code, remaining, nil
}
