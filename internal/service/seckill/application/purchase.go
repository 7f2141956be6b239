// internal/service/seckill/application/purchase.go
package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

// PurchaseService 编排下单热路径：
// 资格规则 -> 活动窗口校验 -> 按 SKU 加锁 -> 原子扣减 -> 投递扣减事件 -> 释放锁。
// 锁串行化的是"扣减 + 投递"这个多步临界区；防超卖本身靠扣减脚本的原子性。
type PurchaseService struct {
	locks      lock.Manager
	script     port.DeductionScript
	producer   port.DeductionEventProducer
	status     port.RequestStatusStore
	notifier   *LowStockNotifier
	rules      port.EligibilityEngine
	activities domain.ActivityView
	tracer     trace.Tracer

	lockTTL time.Duration
	nowFunc func() time.Time
}

func NewPurchaseService(
	locks lock.Manager,
	script port.DeductionScript,
	producer port.DeductionEventProducer,
	status port.RequestStatusStore,
	notifier *LowStockNotifier,
	rules port.EligibilityEngine,
	activities domain.ActivityView,
	tracer trace.Tracer,
	lockTTL time.Duration,
) *PurchaseService {
	return &PurchaseService{
		locks:      locks,
		script:     script,
		producer:   producer,
		status:     status,
		notifier:   notifier,
		rules:      rules,
		activities: activities,
		tracer:     tracer,
		lockTTL:    lockTTL,
		nowFunc:    time.Now,
	}
}

// PlaceOrder 处理一次秒杀下单。
// 成功返回 request_id，订单由 order-worker 异步落库。
// 库存不足和限购超额是正常业务结果；锁竞争返回 lock.ErrBusy，
// 接口层把它翻译成"请稍后重试"。
func (s *PurchaseService) PlaceOrder(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("sku.id", req.SKUID),
		attribute.String("user.id", req.UserID),
		attribute.Int64("quantity", req.Quantity),
	)

	start := s.nowFunc()
	defer func() {
		metrics.DeductionDuration.Observe(s.nowFunc().Sub(start).Seconds())
	}()

	// 1. 资格规则，挡在加锁之前，省掉无谓的锁竞争
	allowed, err := s.rules.Allow(port.PurchaseFact{
		UserID:    req.UserID,
		SKUID:     req.SKUID,
		Quantity:  req.Quantity,
		IsBlocked: req.IsBlocked,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "eligibility rule evaluation failed")
		return nil, err
	}
	if !allowed {
		span.AddEvent("Request rejected by eligibility rule.")
		return nil, domain.ErrNotEligible
	}

	// 2. 活动窗口校验（只读视图，写权限归调度器）
	activity, err := s.activities.ActiveForSKU(ctx, req.SKUID)
	if err != nil {
		return nil, err
	}
	if !activity.InWindow(s.nowFunc()) {
		return nil, domain.ErrActivityNotActive
	}

	// 3. 按 SKU 加租约锁
	lease, err := s.locks.Acquire(ctx, "seckill:sku:"+req.SKUID, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			metrics.DeductionAttempts.WithLabelValues(metrics.ResultBusy).Inc()
			span.AddEvent("Lock busy, caller should retry.")
		}
		return nil, err
	}
	defer func() {
		if releaseErr := s.locks.Release(ctx, lease); releaseErr != nil {
			// 租约过期后才释放说明临界区工作超出了租约窗口，
			// 记录下来排查，不影响本次请求的结果
			logger.Ctx(ctx).Warn().Err(releaseErr).
				Str("sku_id", req.SKUID).
				Msg("Lease already expired at release time")
		}
	}()

	// 4. 原子扣减，防超卖的唯一依据
	remaining, err := s.script.TryDeduct(ctx, req.SKUID, req.UserID, req.Quantity, activity.PurchaseLimit)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientStock):
			metrics.DeductionAttempts.WithLabelValues(metrics.ResultInsufficient).Inc()
			span.AddEvent("Sold out.")
		case errors.Is(err, domain.ErrPurchaseLimitExceeded):
			metrics.DeductionAttempts.WithLabelValues(metrics.ResultLimited).Inc()
			span.AddEvent("Purchase limit exceeded.")
		default:
			metrics.DeductionAttempts.WithLabelValues(metrics.ResultError).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "deduction script failed")
		}
		return nil, err
	}

	event := &domain.DeductionSucceeded{
		EventID:    uuid.New().String(),
		ActivityID: activity.ID,
		SKUID:      req.SKUID,
		UserID:     req.UserID,
		Quantity:   req.Quantity,
		Remaining:  remaining,
		OccurredAt: s.nowFunc().UTC(),
	}

	if err := s.status.Init(ctx, event.EventID, req.UserID); err != nil {
		// 状态记录只影响客户端轮询体验，不影响正确性
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", event.EventID).
			Msg("Failed to init request status")
	}

	// 5. 投递扣减事件。失败必须在锁内补偿，否则扣减就成了无主幽灵
	if err := s.producer.Produce(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue deduction event")
		if _, restockErr := s.script.Restock(ctx, req.SKUID, req.Quantity); restockErr != nil {
			metrics.RestockFailures.Inc()
			logger.Ctx(ctx).Error().Err(restockErr).
				Str("sku_id", req.SKUID).Int64("quantity", req.Quantity).
				Msg("🚨 CRITICAL: compensating restock failed after enqueue failure")
		}
		// 扣减已补偿，让轮询方拿到终态而不是等状态 TTL 过期
		if failErr := s.status.MarkFailed(ctx, event.EventID, "failed to enqueue order event"); failErr != nil {
			logger.Ctx(ctx).Warn().Err(failErr).Str("request_id", event.EventID).
				Msg("Failed to mark request status")
		}
		metrics.DeductionAttempts.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}

	metrics.DeductionAttempts.WithLabelValues(metrics.ResultDeducted).Inc()
	span.AddEvent("Deduction succeeded, event enqueued.",
		trace.WithAttributes(attribute.Int64("stock.remaining", remaining)))

	// 6. 低库存告警，尽力而为，绝不拖慢热路径
	s.notifier.CheckAndNotify(ctx, req.SKUID, remaining)

	return &PurchaseResponse{
		RequestID: event.EventID,
		Remaining: remaining,
		Message:   "Your order is being processed.",
	}, nil
}

// RequestStatus 查询一次下单请求的处理进度，只允许本人查询。
func (s *PurchaseService) RequestStatus(ctx context.Context, requestID, userID string) (*port.RequestStatus, error) {
	status, err := s.status.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, nil
	}
	if status.UserID != userID {
		return nil, domain.ErrNotEligible
	}
	return status, nil
}
