// internal/service/seckill/application/materializer.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

// Materializer 消费扣减成功事件，把完整订单异步落库并同步权威账本。
// 投递语义是 at-least-once，这里的每一步都以 event_id 为幂等键：
// 账本流水按 reference_id 去重，订单主键就是 event_id。
// 处理顺序是先账本后订单——两步都幂等，任意一步失败后的重投都是安全的。
type Materializer struct {
	orders domain.OrderRepository
	ledger domain.StockLedger
	script port.DeductionScript
	status port.RequestStatusStore
	gate   Debouncer
	tracer trace.Tracer

	orderTTL time.Duration
	nowFunc  func() time.Time
}

// 死信补偿的缓存回补闸门，窗口远大于死信可能被重投的时间跨度。
const dltRestockGateTTL = 24 * time.Hour

func NewMaterializer(
	orders domain.OrderRepository,
	ledger domain.StockLedger,
	script port.DeductionScript,
	status port.RequestStatusStore,
	gate Debouncer,
	tracer trace.Tracer,
	orderTTL time.Duration,
) *Materializer {
	return &Materializer{
		orders:   orders,
		ledger:   ledger,
		script:   script,
		status:   status,
		gate:     gate,
		tracer:   tracer,
		orderTTL: orderTTL,
		nowFunc:  time.Now,
	}
}

// HandleDeductionSucceeded 把一次成功扣减物化为订单。
// 返回非 nil 错误时，消费者适配器会走重试/死信流程。
func (m *Materializer) HandleDeductionSucceeded(ctx context.Context, event *domain.DeductionSucceeded) error {
	ctx, span := m.tracer.Start(ctx, "app.HandleDeductionSucceeded", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.EventID),
		attribute.String("sku.id", event.SKUID),
	)

	// 1. 权威账本扣减，按 event_id 幂等
	if err := m.ledger.Deduct(ctx, event.SKUID, event.Quantity, event.EventID); err != nil {
		// 账本不足说明缓存与账本已经漂移，这属于基础设施故障而非业务结果，
		// 交给重试/死信流程，死信侧会做补偿回补
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger deduct failed")
		return err
	}

	// 2. 订单落库，主键冲突即重复投递
	order, err := domain.NewOrder(event, m.nowFunc().Add(m.orderTTL))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed deduction event")
		return err
	}
	if err := m.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			metrics.DuplicateEvents.Inc()
			span.AddEvent("Duplicate event acknowledged.")
			logger.Ctx(ctx).Info().Str("event_id", event.EventID).Msg("Duplicate deduction event, already materialized")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "order persistence failed")
		return err
	}

	if err := m.status.MarkSuccess(ctx, event.EventID, order.ID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", event.EventID).Msg("Failed to mark request status")
	}

	metrics.OrdersMaterialized.Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).Str("sku_id", order.SKUID).Int64("quantity", order.Quantity).
		Msg("✅ Order materialized")
	return nil
}

// Compensate 处理进入死信队列的扣减事件：重试已经耗尽，订单无法落库，
// 必须把缓存计数器和账本里的数量还回去，否则这次扣减就成了永久的幽灵。
// 回补后把请求状态置为 FAILED，让等待中的客户端得到终态。
func (m *Materializer) Compensate(ctx context.Context, event *domain.DeductionSucceeded) error {
	ctx, span := m.tracer.Start(ctx, "app.CompensateDeadLetter", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("event.id", event.EventID))

	// 缓存回补没有账本那样的流水去重，死信重投或中途失败后的重来
	// 都会再次走到这里，SETNX 闸门保证同一个事件只 INCRBY 一次。
	// 计数器已随活动下线时视为成功：权威账本才是活动结束后的事实来源
	ok, err := m.gate.Once(ctx, "seckill:dlt-restock:"+event.EventID, dltRestockGateTTL)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if ok {
		if _, err := m.script.Restock(ctx, event.SKUID, event.Quantity); err != nil && !errors.Is(err, domain.ErrNotWarmedUp) {
			// 闸门已占用，重试也不会再走到回补，只能计数报警靠对账兜底
			metrics.RestockFailures.Inc()
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).
				Str("sku_id", event.SKUID).Int64("quantity", event.Quantity).
				Msg("🚨 CRITICAL: cache restock failed during dead-letter compensation")
		}
	}

	// 账本只在当初的扣减确实落过账时才回补，
	// 否则这笔"补偿"会凭空放大账本库存
	deducted, err := m.ledger.HasTransaction(ctx, event.EventID, domain.TransactionDeduct)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if deducted {
		if err := m.ledger.Restock(ctx, event.SKUID, event.Quantity, "dlt:"+event.EventID); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if err := m.status.MarkFailed(ctx, event.EventID, "order materialization failed"); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", event.EventID).Msg("Failed to mark request status")
	}

	metrics.CompensatedDeductions.Inc()
	logger.Ctx(ctx).Error().
		Str("event_id", event.EventID).Str("sku_id", event.SKUID).Int64("quantity", event.Quantity).
		Msg("🚨 Dead-lettered deduction compensated, operator attention required")
	return nil
}
