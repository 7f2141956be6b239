// internal/service/seckill/domain/event.go
package domain

import "time"

// DeductionSucceeded 在原子扣减成功后发布，驱动订单的异步落库。
// EventID 同时充当幂等键和订单 ID：消费侧重复收到同一个事件时，
// 以此判定重复并直接确认。
type DeductionSucceeded struct {
	EventID    string    `json:"event_id"`
	ActivityID string    `json:"activity_id"`
	SKUID      string    `json:"sku_id"`
	UserID     string    `json:"user_id"`
	Quantity   int64     `json:"quantity"`
	Remaining  int64     `json:"remaining"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LowStockAlert 是低库存告警的载荷，投递是尽力而为的。
type LowStockAlert struct {
	SKUID     string    `json:"sku_id"`
	Remaining int64     `json:"remaining"`
	Timestamp time.Time `json:"timestamp"`
}
