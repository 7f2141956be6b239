// internal/service/seckill/domain/port/status.go
package port

import "context"

// 请求状态的取值。下单接口立即返回 request_id，
// 客户端轮询状态直到 SUCCESS 或 FAILED。
const (
	RequestProcessing = "PROCESSING"
	RequestSuccess    = "SUCCESS"
	RequestFailed     = "FAILED"
)

// RequestStatus 是一次秒杀请求的处理进度快照。
type RequestStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id,omitempty"`
}

// RequestStatusStore 保存请求状态，带 TTL，由缓存实现。
type RequestStatusStore interface {
	// Init 写入 PROCESSING 初始状态。
	Init(ctx context.Context, requestID, userID string) error

	// MarkSuccess 由订单落库方调用。
	MarkSuccess(ctx context.Context, requestID, orderID string) error

	// MarkFailed 由死信补偿方调用。
	MarkFailed(ctx context.Context, requestID, reason string) error

	// Get 查询状态，过期或不存在时返回 (nil, nil)。
	Get(ctx context.Context, requestID string) (*RequestStatus, error)
}
