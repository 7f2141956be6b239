// internal/service/seckill/infrastructure/kafka_producer.go
package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"flashmart/internal/pkg/mq"
	"flashmart/internal/service/seckill/domain"
)

// DeductionProducerAdapter 把扣减成功事件投递到扣减主题。
// 以 SKU 为 Key，同一个 SKU 的事件落在同一分区，消费侧按序物化。
type DeductionProducerAdapter struct {
	writer *kafka.Writer
}

func NewDeductionProducerAdapter(writer *kafka.Writer) *DeductionProducerAdapter {
	return &DeductionProducerAdapter{writer: writer}
}

func (p *DeductionProducerAdapter) Produce(ctx context.Context, event *domain.DeductionSucceeded) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode deduction event")
	}
	return errors.Wrap(
		mq.ProduceMessage(ctx, p.writer, []byte(event.SKUID), payload),
		"produce deduction event")
}

// AlertProducerAdapter 把低库存告警投递到告警主题。
type AlertProducerAdapter struct {
	writer *kafka.Writer
}

func NewAlertProducerAdapter(writer *kafka.Writer) *AlertProducerAdapter {
	return &AlertProducerAdapter{writer: writer}
}

func (p *AlertProducerAdapter) Produce(ctx context.Context, alert *domain.LowStockAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "encode low stock alert")
	}
	return errors.Wrap(
		mq.ProduceMessage(ctx, p.writer, []byte(alert.SKUID), payload),
		"produce low stock alert")
}
