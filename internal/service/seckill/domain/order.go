// internal/service/seckill/domain/order.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// OrderStatus 定义了秒杀订单的生命周期状态。
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"   // 已扣减库存，等待支付
	OrderConfirmed OrderStatus = "CONFIRMED" // 支付网关已确认
	OrderCancelled OrderStatus = "CANCELLED" // 用户主动取消
	OrderExpired   OrderStatus = "EXPIRED"   // 超时未支付，已被清扫并回补库存
)

// Order 是订单聚合根。不变式：任何 Pending/Confirmed 订单都对应一次
// 已经发生的扣减——扣减永远先于订单落库，反之不成立。
type Order struct {
	ID         string
	ActivityID string
	SKUID      string
	UserID     string
	Quantity   int64
	Status     OrderStatus
	CreatedAt  time.Time
	ExpireAt   time.Time
	UpdatedAt  time.Time
}

// NewOrder 从扣减成功事件构造待支付订单。订单 ID 复用事件 ID，天然幂等。
func NewOrder(event *DeductionSucceeded, expireAt time.Time) (*Order, error) {
	if event.EventID == "" || event.SKUID == "" || event.UserID == "" {
		return nil, errors.New("cannot create order with empty required fields")
	}
	if event.Quantity <= 0 {
		return nil, errors.New("order quantity must be positive")
	}
	now := time.Now()
	return &Order{
		ID:         event.EventID,
		ActivityID: event.ActivityID,
		SKUID:      event.SKUID,
		UserID:     event.UserID,
		Quantity:   event.Quantity,
		Status:     OrderPending,
		CreatedAt:  now,
		ExpireAt:   expireAt,
		UpdatedAt:  now,
	}, nil
}

// Confirm 由支付确认回调触发，只有待支付的订单可以确认。
func (o *Order) Confirm() error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, OrderConfirmed)
	}
	o.Status = OrderConfirmed
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel 用户主动取消，只有待支付的订单可以取消。
func (o *Order) Cancel() error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, OrderCancelled)
	}
	o.Status = OrderCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// Expire 由清扫任务触发。
func (o *Order) Expire() error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, OrderExpired)
	}
	o.Status = OrderExpired
	o.UpdatedAt = time.Now()
	return nil
}

// ExpireDue 判断订单是否超时未支付。
func (o *Order) ExpireDue(now time.Time) bool {
	return o.Status == OrderPending && !now.Before(o.ExpireAt)
}
