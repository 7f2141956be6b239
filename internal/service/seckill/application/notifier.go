// internal/service/seckill/application/notifier.go
package application

import (
	"context"
	"time"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/metrics"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

// Debouncer 限制同一个 key 在冷却窗口内只放行一次，由 Redis SETNX 实现。
type Debouncer interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// LowStockNotifier 在余量跌破阈值时发出告警。
// 每个 SKU 在冷却窗口内最多告警一次；投递是 fire-and-forget，
// 任何失败都不会阻塞或回滚触发它的那次扣减。
type LowStockNotifier struct {
	alerts    port.AlertProducer
	debounce  Debouncer
	threshold int64
	cooldown  time.Duration
	nowFunc   func() time.Time
}

func NewLowStockNotifier(alerts port.AlertProducer, debounce Debouncer, threshold int64, cooldown time.Duration) *LowStockNotifier {
	return &LowStockNotifier{
		alerts:    alerts,
		debounce:  debounce,
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
	}
}

// CheckAndNotify 判断阈值并异步投递告警。同步部分只有一次 SETNX。
func (n *LowStockNotifier) CheckAndNotify(ctx context.Context, skuID string, remaining int64) {
	if remaining > n.threshold {
		return
	}

	ok, err := n.debounce.Once(ctx, "seckill:alert:"+skuID, n.cooldown)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("sku_id", skuID).Msg("Alert debounce check failed")
		return
	}
	if !ok {
		return // 冷却窗口内已经告警过
	}

	alert := &domain.LowStockAlert{
		SKUID:     skuID,
		Remaining: remaining,
		Timestamp: n.nowFunc().UTC(),
	}

	// 与请求的生命周期解耦：请求返回后投递照常进行
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := n.alerts.Produce(bgCtx, alert); err != nil {
			logger.Ctx(bgCtx).Error().Err(err).
				Str("sku_id", skuID).Int64("remaining", remaining).
				Msg("Failed to produce low stock alert")
			return
		}
		metrics.LowStockAlerts.Inc()
		logger.Ctx(bgCtx).Warn().
			Str("sku_id", skuID).Int64("remaining", remaining).
			Msg("📉 Low stock alert emitted")
	}()
}
