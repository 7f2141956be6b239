// internal/service/seckill/domain/errors.go
package domain

import "errors"

var (
	// ErrInsufficientStock 是正常的业务结果，不是故障：库存卖完了。
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPurchaseLimitExceeded 表示该用户在本活动内的限购额度已用完。
	ErrPurchaseLimitExceeded = errors.New("purchase limit exceeded")

	// ErrNotWarmedUp 表示 SKU 的秒杀计数器还没有预热到缓存。
	ErrNotWarmedUp = errors.New("seckill counter not warmed up")

	// ErrActivityNotActive 表示当前时间不在活动窗口内。
	ErrActivityNotActive = errors.New("activity is not active")

	// ErrNotEligible 表示下单请求没有通过资格规则。
	ErrNotEligible = errors.New("purchase request not eligible")

	// ErrDuplicateEvent 表示同一个扣减事件被重复投递，幂等处理后直接确认。
	ErrDuplicateEvent = errors.New("duplicate deduction event")

	// ErrOrderNotFound 订单不存在。
	ErrOrderNotFound = errors.New("order not found")

	// ErrActivityNotFound 活动不存在。
	ErrActivityNotFound = errors.New("activity not found")

	// ErrInvalidTransition 表示状态机不允许的流转，属于调用方错误。
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleActivity 表示条件更新输掉了并发竞争：
	// 数据库里的活动状态已经被别的实例推进，本次写入没有生效。
	ErrStaleActivity = errors.New("activity state changed concurrently")

	// ErrInvalidActivity 表示活动参数没有通过校验。
	ErrInvalidActivity = errors.New("invalid activity")
)
