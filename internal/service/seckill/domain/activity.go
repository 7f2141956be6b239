// internal/service/seckill/domain/activity.go
package domain

import (
	"fmt"
	"time"
)

// ActivityState 定义了秒杀活动的生命周期。
// 流转是单向的：Scheduled -> WarmedUp -> Active -> Ended，不允许回退。
// 只有调度器拥有写权限，请求侧拿到的都是只读视图。
type ActivityState string

const (
	ActivityScheduled ActivityState = "SCHEDULED"  // 已创建，等待预热
	ActivityWarmedUp  ActivityState = "WARMED_UP"  // 库存已预热到缓存，等待开始
	ActivityActive    ActivityState = "ACTIVE"     // 活动窗口内，可下单
	ActivityEnded     ActivityState = "ENDED"      // 已结束
)

// Activity 是秒杀活动聚合根。
type Activity struct {
	ID            string
	Name          string
	SKUID         string
	StartTime     time.Time
	EndTime       time.Time
	WarmQuantity  int64
	PurchaseLimit int64
	State         ActivityState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewActivity 创建一个待调度的活动。
func NewActivity(id, name, skuID string, start, end time.Time, warmQuantity, purchaseLimit int64) (*Activity, error) {
	if id == "" || skuID == "" {
		return nil, fmt.Errorf("%w: activity id and sku id are required", ErrInvalidActivity)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidActivity)
	}
	if warmQuantity < 0 {
		return nil, fmt.Errorf("%w: warm quantity must be non-negative", ErrInvalidActivity)
	}
	if purchaseLimit <= 0 {
		purchaseLimit = 1
	}
	now := time.Now()
	return &Activity{
		ID:            id,
		Name:          name,
		SKUID:         skuID,
		StartTime:     start,
		EndTime:       end,
		WarmQuantity:  warmQuantity,
		PurchaseLimit: purchaseLimit,
		State:         ActivityScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// WarmUpDue 判断是否到了预热时间点（开始前 lead 时长）。
func (a *Activity) WarmUpDue(now time.Time, lead time.Duration) bool {
	return a.State == ActivityScheduled && !now.Before(a.StartTime.Add(-lead))
}

// MarkWarmedUp 只允许从 Scheduled 进入。
func (a *Activity) MarkWarmedUp() error {
	if a.State != ActivityScheduled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, ActivityWarmedUp)
	}
	a.State = ActivityWarmedUp
	a.UpdatedAt = time.Now()
	return nil
}

// MarkActive 只允许从 WarmedUp 进入，且 now 必须落在活动窗口内。
func (a *Activity) MarkActive(now time.Time) error {
	if a.State != ActivityWarmedUp {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, ActivityActive)
	}
	if now.Before(a.StartTime) || !now.Before(a.EndTime) {
		return fmt.Errorf("%w: outside activity window", ErrInvalidTransition)
	}
	a.State = ActivityActive
	a.UpdatedAt = time.Now()
	return nil
}

// MarkEnded 在到达结束时间或库存耗尽时调用。
// 从 WarmedUp 直接结束也是合法的：活动可能在开始前就被判定无货。
func (a *Activity) MarkEnded() error {
	if a.State == ActivityEnded {
		return fmt.Errorf("%w: already ended", ErrInvalidTransition)
	}
	if a.State == ActivityScheduled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, ActivityEnded)
	}
	a.State = ActivityEnded
	a.UpdatedAt = time.Now()
	return nil
}

// InWindow 判断 now 是否处于 [StartTime, EndTime)。
func (a *Activity) InWindow(now time.Time) bool {
	return !now.Before(a.StartTime) && now.Before(a.EndTime)
}
