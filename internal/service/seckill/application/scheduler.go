// internal/service/seckill/application/scheduler.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

const cacheRestockAttempts = 3

// Scheduler 是活动状态与订单超时的唯一写入方。
// 两条独立的定时循环：活动状态机流转（含预热）和过期订单清扫。
// 两条循环都是幂等的，错过若干个 tick 不影响正确性。
type Scheduler struct {
	activities domain.ActivityRepository
	orders     domain.OrderRepository
	sweeper    domain.SweepRepository
	script     port.DeductionScript
	locks      lock.Manager
	tracer     trace.Tracer

	warmUpLead     time.Duration
	lockTTL        time.Duration
	sweepBatchSize int
	nowFunc        func() time.Time
}

func NewScheduler(
	activities domain.ActivityRepository,
	orders domain.OrderRepository,
	sweeper domain.SweepRepository,
	script port.DeductionScript,
	locks lock.Manager,
	tracer trace.Tracer,
	warmUpLead, lockTTL time.Duration,
	sweepBatchSize int,
) *Scheduler {
	return &Scheduler{
		activities:     activities,
		orders:         orders,
		sweeper:        sweeper,
		script:         script,
		locks:          locks,
		tracer:         tracer,
		warmUpLead:     warmUpLead,
		lockTTL:        lockTTL,
		sweepBatchSize: sweepBatchSize,
		nowFunc:        time.Now,
	}
}

// Start 启动两条定时循环，直到 ctx 取消。
func (s *Scheduler) Start(ctx context.Context, activityInterval, expiryInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, activityInterval, s.RunActivitySweep) })
	g.Go(func() error { return s.loop(ctx, expiryInterval, s.RunExpirySweep) })
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := run(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Sweep run failed, will retry on next tick")
			}
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Scheduler loop shutting down.")
			return ctx.Err()
		}
	}
}

// RunActivitySweep 推进所有未结束活动的状态机。
func (s *Scheduler) RunActivitySweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.RunActivitySweep")
	defer span.End()

	acts, err := s.activities.FindByStates(ctx, domain.ActivityScheduled, domain.ActivityWarmedUp, domain.ActivityActive)
	if err != nil {
		span.RecordError(err)
		return err
	}

	now := s.nowFunc()
	for _, a := range acts {
		if err := s.advance(ctx, a, now); err != nil {
			// 单个活动失败不挡别的活动，下个 tick 会重来
			logger.Ctx(ctx).Error().Err(err).Str("activity_id", a.ID).Msg("Failed to advance activity")
		}
	}
	return nil
}

func (s *Scheduler) advance(ctx context.Context, a *domain.Activity, now time.Time) error {
	switch a.State {
	case domain.ActivityScheduled:
		if a.WarmUpDue(now, s.warmUpLead) {
			return s.WarmUp(ctx, a)
		}
	case domain.ActivityWarmedUp:
		if a.InWindow(now) {
			if err := a.MarkActive(now); err != nil {
				return err
			}
			if err := s.activities.Save(ctx, a, domain.ActivityWarmedUp); err != nil {
				if errors.Is(err, domain.ErrStaleActivity) {
					return nil // 别的实例抢先推进了状态
				}
				return err
			}
			logger.Ctx(ctx).Info().Str("activity_id", a.ID).Msg("⚡ Activity is now ACTIVE")
			return nil
		}
		// 预热过但窗口已整个错过（调度器停机太久），直接收尾
		if !now.Before(a.EndTime) {
			return s.end(ctx, a, "window missed")
		}
	case domain.ActivityActive:
		if !now.Before(a.EndTime) {
			return s.end(ctx, a, "window closed")
		}
		remaining, err := s.script.Remaining(ctx, a.SKUID)
		if err != nil {
			if errors.Is(err, domain.ErrNotWarmedUp) {
				return nil
			}
			return err
		}
		if remaining <= 0 {
			return s.end(ctx, a, "stock exhausted")
		}
	}
	return nil
}

// end 收尾一个活动：条件落库后下线缓存计数器。
// 输掉竞争说明别的实例已经收尾，静默退出即可。
func (s *Scheduler) end(ctx context.Context, a *domain.Activity, reason string) error {
	prior := a.State
	if err := a.MarkEnded(); err != nil {
		return err
	}
	if err := s.activities.Save(ctx, a, prior); err != nil {
		if errors.Is(err, domain.ErrStaleActivity) {
			return nil
		}
		return err
	}
	logger.Ctx(ctx).Info().Str("activity_id", a.ID).Str("reason", reason).Msg("Activity ENDED")
	s.retireCounter(ctx, a)
	return nil
}

// retireCounter 尽力而为：删不掉只影响残留 key 的回收，不影响正确性。
func (s *Scheduler) retireCounter(ctx context.Context, a *domain.Activity) {
	if err := s.script.Retire(ctx, a.SKUID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("sku_id", a.SKUID).Msg("Failed to retire stock counter")
	}
}

// WarmUp 把活动的秒杀库存预热到缓存计数器。
// 用活动级别的锁防止多个调度器实例（或运营手动触发）同时预热；
// 拿不到锁说明别人正在做，跳过即可。
func (s *Scheduler) WarmUp(ctx context.Context, a *domain.Activity) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.WarmUp",
		trace.WithAttributes(attribute.String("activity.id", a.ID)))
	defer span.End()

	lease, err := s.locks.Acquire(ctx, "seckill:warmup:"+a.ID, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			span.AddEvent("Warm-up already in progress elsewhere.")
			return nil
		}
		span.RecordError(err)
		return err
	}
	defer s.locks.Release(ctx, lease)

	// 手里的副本可能在等锁时就过时了，拿锁后以存储里的状态为准
	fresh, err := s.activities.FindByID(ctx, a.ID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if fresh.State != domain.ActivityScheduled {
		span.AddEvent("Already warmed up elsewhere.")
		return nil
	}

	if err := s.script.Warm(ctx, fresh.SKUID, fresh.WarmQuantity); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache warm-up failed")
		return err
	}
	if err := fresh.MarkWarmedUp(); err != nil {
		return err
	}
	if err := s.activities.Save(ctx, fresh, domain.ActivityScheduled); err != nil {
		span.RecordError(err)
		return err
	}

	logger.Ctx(ctx).Info().
		Str("activity_id", fresh.ID).Str("sku_id", fresh.SKUID).Int64("warm_quantity", fresh.WarmQuantity).
		Msg("🔥 Activity warmed up")
	return nil
}

// RunExpirySweep 清扫超时未支付的订单。
// 每个订单的"置过期 + 账本回补 + 流水"在一个数据库事务里完成，
// 条件更新保证重复清扫是空操作；缓存回补在事务提交后执行，带有限重试。
func (s *Scheduler) RunExpirySweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.RunExpirySweep")
	defer span.End()

	now := s.nowFunc()
	ids, err := s.orders.FindExpired(ctx, now, s.sweepBatchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	swept := 0
	for _, id := range ids {
		order, ok, err := s.sweeper.ExpireAndRestock(ctx, id, now)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", id).Msg("Failed to expire order, will retry on next tick")
			continue
		}
		if !ok {
			continue // 已被别的实例清扫过
		}
		swept++
		metrics.SweptOrders.Inc()

		s.restockCache(ctx, order)
	}

	span.SetAttributes(attribute.Int("sweep.candidates", len(ids)), attribute.Int("sweep.swept", swept))
	if swept > 0 {
		logger.Ctx(ctx).Info().Int("count", swept).Msg("🧹 Expired orders swept and restocked")
	}
	return nil
}

// restockCache 把过期订单的数量还给缓存计数器。
// 丢失一次回补意味着可售库存被永久低估，所以失败时在本轮内重试；
// 仍然失败就计数报警，靠账本与缓存的对账兜底。
func (s *Scheduler) restockCache(ctx context.Context, order *domain.Order) {
	var lastErr error
	for attempt := 0; attempt < cacheRestockAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		_, err := s.script.Restock(ctx, order.SKUID, order.Quantity)
		if err == nil || errors.Is(err, domain.ErrNotWarmedUp) {
			// 计数器已随活动下线时没有可回补的对象，账本已经是事实来源
			return
		}
		lastErr = err
	}
	metrics.RestockFailures.Inc()
	logger.Ctx(ctx).Error().Err(lastErr).
		Str("order_id", order.ID).Str("sku_id", order.SKUID).Int64("quantity", order.Quantity).
		Msg("🚨 CRITICAL: cache restock failed after retries, counter undercounts until reconciliation")
}
