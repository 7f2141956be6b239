// internal/service/seckill/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
	"flashmart/internal/service/seckill/domain"
)

// EventHandler 是消费侧的业务入口，由应用层实现。
type EventHandler func(ctx context.Context, event *domain.DeductionSucceeded) error

// DeductionConsumerAdapter 消费扣减事件主题（含重试主题），投递语义 at-least-once：
// 先处理后提交，处理失败的消息交给 FailureHandler 转投重试/死信主题后照常提交，
// 不丢消息也不卡住分区。
type DeductionConsumerAdapter struct {
	reader     *kafka.Reader
	handler    EventHandler
	failures   *mq.FailureHandler
	retryDelay time.Duration
}

func NewDeductionConsumerAdapter(reader *kafka.Reader, handler EventHandler, failures *mq.FailureHandler, retryDelay time.Duration) *DeductionConsumerAdapter {
	return &DeductionConsumerAdapter{
		reader:     reader,
		handler:    handler,
		failures:   failures,
		retryDelay: retryDelay,
	}
}

// Start 阻塞消费直到 ctx 取消。
func (c *DeductionConsumerAdapter) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("🚀 Deduction consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Deduction consumer shutting down.")
				return nil
			}
			return err
		}

		c.processMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit offset, message may be redelivered")
		}
	}
}

func (c *DeductionConsumerAdapter) Stop() error {
	return c.reader.Close()
}

func (c *DeductionConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)

	// 重试消息延迟消费，给下游故障留恢复时间
	if retries := mq.RetryCount(msg.Headers); retries > 0 && c.retryDelay > 0 {
		select {
		case <-time.After(time.Duration(retries) * c.retryDelay):
		case <-ctx.Done():
			return
		}
	}

	var event domain.DeductionSucceeded
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// 坏消息重试也没救，直接按失败处理走转投流程
		logger.Ctx(msgCtx).Error().Err(err).Str("key", string(msg.Key)).Msg("Malformed deduction event")
		c.failures.Handle(msgCtx, msg, err)
		return
	}

	if err := c.handler(msgCtx, &event); err != nil {
		c.failures.Handle(msgCtx, msg, err)
	}
}

// CompensationConsumerAdapter 消费死信主题，对每条死信执行补偿回补。
// 补偿本身失败时原地有限重试；仍失败就记日志提交，剩下的交给人工，
// 死信不再有下一级兜底队列。
type CompensationConsumerAdapter struct {
	reader  *kafka.Reader
	handler EventHandler
}

func NewCompensationConsumerAdapter(reader *kafka.Reader, handler EventHandler) *CompensationConsumerAdapter {
	return &CompensationConsumerAdapter{reader: reader, handler: handler}
}

func (c *CompensationConsumerAdapter) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("🚀 Compensation consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Compensation consumer shutting down.")
				return nil
			}
			return err
		}

		c.processMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit offset, message may be redelivered")
		}
	}
}

func (c *CompensationConsumerAdapter) Stop() error {
	return c.reader.Close()
}

func (c *CompensationConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)

	var event domain.DeductionSucceeded
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(msgCtx).Error().Err(err).Str("key", string(msg.Key)).Msg("Malformed dead letter, skipping")
		return
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
		if lastErr = c.handler(msgCtx, &event); lastErr == nil {
			return
		}
	}
	logger.Ctx(msgCtx).Error().Err(lastErr).
		Str("event_id", event.EventID).Str("sku_id", event.SKUID).
		Msg("🚨 CRITICAL: dead letter compensation failed, manual intervention required")
}
