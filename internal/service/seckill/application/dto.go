// internal/service/seckill/application/dto.go
package application

import (
	"errors"

	"flashmart/internal/service/seckill/domain"
)

// ErrInvalidTimeFormat 表示活动时间字段不是合法的 RFC3339。
var ErrInvalidTimeFormat = errors.New("start_time and end_time must be RFC3339")

// PurchaseRequest 是下单接口的入参。UserID 来自上游认证层，
// 扣减核心假定权限校验已经通过。
type PurchaseRequest struct {
	UserID    string `json:"user_id"`
	SKUID     string `json:"sku_id"`
	Quantity  int64  `json:"quantity"`
	IsBlocked bool   `json:"-"` // 由风控协作方注入，不走请求体
}

// PurchaseResponse 立即返回给客户端：请求已受理，订单异步生成。
type PurchaseResponse struct {
	RequestID string `json:"request_id"`
	Remaining int64  `json:"remaining"`
	Message   string `json:"message"`
}

// CreateActivityRequest 是运营侧创建活动的入参。
type CreateActivityRequest struct {
	Name          string `json:"name"`
	SKUID         string `json:"sku_id"`
	StartTime     string `json:"start_time"` // RFC3339
	EndTime       string `json:"end_time"`   // RFC3339
	WarmQuantity  int64  `json:"warm_quantity"`
	PurchaseLimit int64  `json:"purchase_limit"`
}

// ActivityResponse 是活动的对外表示。
type ActivityResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SKUID         string `json:"sku_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	WarmQuantity  int64  `json:"warm_quantity"`
	PurchaseLimit int64  `json:"purchase_limit"`
	State         string `json:"state"`
}

func toActivityResponse(a *domain.Activity) *ActivityResponse {
	return &ActivityResponse{
		ID:            a.ID,
		Name:          a.Name,
		SKUID:         a.SKUID,
		StartTime:     a.StartTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
		EndTime:       a.EndTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
		WarmQuantity:  a.WarmQuantity,
		PurchaseLimit: a.PurchaseLimit,
		State:         string(a.State),
	}
}
