// internal/service/seckill/domain/port/deduction.go
package port

import "context"

// DeductionScript 是防超卖的核心出站端口：
// 检查加扣减必须在一次不可分割的服务端操作里完成，
// 中间状态对任何并发调用都不可见。分布式锁只是外围多步临界区的
// 串行化手段，数量本身的正确性完全由这个端口的实现保证。
type DeductionScript interface {
	// TryDeduct 原子地检查并扣减缓存计数器。
	// 成功时返回扣减后的余量；库存不足返回 domain.ErrInsufficientStock；
	// 用户限购超额返回 domain.ErrPurchaseLimitExceeded；
	// 计数器未预热返回 domain.ErrNotWarmedUp。失败时没有任何副作用。
	TryDeduct(ctx context.Context, skuID, userID string, quantity, limit int64) (remaining int64, err error)

	// Restock 把数量加回缓存计数器（补偿动作）。
	// 计数器不存在时返回 domain.ErrNotWarmedUp，避免凭空造出库存。
	Restock(ctx context.Context, skuID string, quantity int64) (remaining int64, err error)

	// Warm 预热：把活动的秒杀库存写入计数器，并清空限购记录。
	Warm(ctx context.Context, skuID string, quantity int64) error

	// Retire 在活动结束后删除计数器和限购记录。
	// 之后的回补会命中 ErrNotWarmedUp，账本成为唯一事实来源。
	Retire(ctx context.Context, skuID string) error

	// Remaining 读取计数器当前余量，用于展示和调度器的售罄判定。
	Remaining(ctx context.Context, skuID string) (int64, error)
}
