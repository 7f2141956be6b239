// internal/service/seckill/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository 定义了订单聚合的持久化接口，由基础设施层实现。
type OrderRepository interface {
	// Create 插入新订单。订单 ID 已存在时返回 ErrDuplicateEvent。
	Create(ctx context.Context, order *Order) error

	// FindByID 按 ID 查找订单，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id string) (*Order, error)

	// UpdateStatus 更新订单状态。
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error

	// FindExpired 返回一批超时未支付的订单 ID。
	FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// SweepRepository 把"订单置为过期 + 账本回补 + 流水落账"做成一个数据库事务。
// 条件更新（status = PENDING）是幂等闸门：订单已被清扫过时返回 swept=false，
// 重复清扫不会产生第二次回补。
type SweepRepository interface {
	ExpireAndRestock(ctx context.Context, orderID string, now time.Time) (order *Order, swept bool, err error)
}

// ActivityRepository 定义了活动聚合的持久化接口。
type ActivityRepository interface {
	Create(ctx context.Context, activity *Activity) error
	// Save 条件更新活动状态：只在存储中的状态仍等于 from 时写入，
	// 否则返回 ErrStaleActivity。状态机的单向性靠它在多实例下兜底。
	Save(ctx context.Context, activity *Activity, from ActivityState) error
	// FindByID 不存在时返回 ErrActivityNotFound。
	FindByID(ctx context.Context, id string) (*Activity, error)
	// FindByStates 返回处于给定状态的活动，调度器用它找待流转的活动。
	FindByStates(ctx context.Context, states ...ActivityState) ([]*Activity, error)
}

// ActivityView 是暴露给请求侧的只读视图，写权限归调度器独有。
type ActivityView interface {
	// ActiveForSKU 返回该 SKU 当前处于 Active 状态的活动，
	// 没有时返回 ErrActivityNotActive。
	ActiveForSKU(ctx context.Context, skuID string) (*Activity, error)
}

// StockLedger 是权威库存账本。所有变动都带 referenceID 做幂等，
// 同一个引用的同类变动只会落账一次。
type StockLedger interface {
	// Deduct 扣减账本库存。库存不足时返回 ErrInsufficientStock，
	// referenceID 已落账时静默成功。
	Deduct(ctx context.Context, skuID string, quantity int64, referenceID string) error

	// Restock 回补账本库存，幂等语义同上。
	Restock(ctx context.Context, skuID string, quantity int64, referenceID string) error

	// HasTransaction 查询某笔流水是否已落账。
	// 死信补偿用它判断账本侧的扣减到底有没有发生过。
	HasTransaction(ctx context.Context, referenceID string, txType TransactionType) (bool, error)

	// Get 读取当前账本记录。
	Get(ctx context.Context, skuID string) (*StockRecord, error)
}
