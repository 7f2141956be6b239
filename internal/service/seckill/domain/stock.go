// internal/service/seckill/domain/stock.go
package domain

import "time"

// StockRecord 是权威库存账本里的一行。Available 在任何可观测时刻都不为负，
// 这由仓储实现里的条件更新保证。
type StockRecord struct {
	SKUID     string
	Available int64
	Version   int64
	UpdatedAt time.Time
}

// TransactionType 标记一次账本变动的方向。
type TransactionType string

const (
	TransactionDeduct  TransactionType = "DEDUCT"
	TransactionRestock TransactionType = "RESTOCK"
)

// StockTransaction 是账本流水。ReferenceID 关联触发这次变动的事件或订单，
// 同一个 (ReferenceID, Type) 只允许出现一次，这是账本幂等性的依据。
type StockTransaction struct {
	ID          uint64
	SKUID       string
	Type        TransactionType
	Quantity    int64
	ReferenceID string
	CreatedAt   time.Time
}
