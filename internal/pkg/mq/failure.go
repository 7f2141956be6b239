// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"flashmart/internal/pkg/logger"
)

// 死信消息上附带的诊断头，消费 DLT 的一侧靠它们还原现场。
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderRetryCount        = "x-retry-count"
)

// FailureHandler 统一处理消费失败的消息：
// 未达到重试上限时转投重试主题，否则进入死信主题。
// 消息本身照常提交 offset，失败处理完全靠转投来保证不丢。
type FailureHandler struct {
	retryWriter *kafka.Writer
	dltWriter   *kafka.Writer
	maxRetries  int
}

func NewFailureHandler(retryWriter, dltWriter *kafka.Writer, maxRetries int) *FailureHandler {
	return &FailureHandler{
		retryWriter: retryWriter,
		dltWriter:   dltWriter,
		maxRetries:  maxRetries,
	}
}

// Handle 根据消息已有的重试次数决定去向。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	retries := RetryCount(msg.Headers)

	if retries < h.maxRetries {
		if err := h.forward(ctx, h.retryWriter, msg, retries+1, cause); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("key", string(msg.Key)).
				Msg("Failed to forward message to retry topic, message may be reprocessed")
			return
		}
		logger.Ctx(ctx).Warn().Err(cause).
			Int("retry", retries+1).
			Str("key", string(msg.Key)).
			Msg("Message scheduled for retry")
		return
	}

	if err := h.forward(ctx, h.dltWriter, msg, retries, cause); err != nil {
		// 转投死信也失败了，只能靠日志报警，人工介入
		logger.Ctx(ctx).Error().Err(err).
			Str("key", string(msg.Key)).
			Msg("🚨 CRITICAL: failed to forward message to DLT")
		return
	}
	logger.Ctx(ctx).Error().Err(cause).
		Str("key", string(msg.Key)).
		Msg("Message exhausted retries, moved to DLT")
}

func (h *FailureHandler) forward(ctx context.Context, writer *kafka.Writer, msg kafka.Message, retries int, cause error) error {
	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
	}
	carrier := KafkaHeaderCarrier(msg.Headers)
	out.Headers = carrier
	setHeader(&out.Headers, HeaderOriginalTopic, msg.Topic)
	setHeader(&out.Headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	setHeader(&out.Headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	setHeader(&out.Headers, HeaderExceptionMessage, cause.Error())
	setHeader(&out.Headers, HeaderRetryCount, strconv.Itoa(retries))
	InjectTraceContext(ctx, &out.Headers)
	return writer.WriteMessages(ctx, out)
}

// RetryCount 读取消息已经历的重试次数，没有头时为 0。
func RetryCount(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key == HeaderRetryCount {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

func setHeader(headers *[]kafka.Header, key, value string) {
	carrier := KafkaHeaderCarrier(*headers)
	carrier.Set(key, value)
	*headers = carrier
}
