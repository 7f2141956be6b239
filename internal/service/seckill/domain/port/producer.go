// internal/service/seckill/domain/port/producer.go
package port

import (
	"context"

	"flashmart/internal/service/seckill/domain"
)

// DeductionEventProducer 把扣减成功事件投递到消息队列。
// 投递语义是 at-least-once，消费侧必须幂等。
type DeductionEventProducer interface {
	Produce(ctx context.Context, event *domain.DeductionSucceeded) error
}

// AlertProducer 投递低库存告警。失败只记日志，绝不阻塞或回滚扣减。
type AlertProducer interface {
	Produce(ctx context.Context, alert *domain.LowStockAlert) error
}
