// internal/service/seckill/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"flashmart/internal/service/seckill/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Create(fromDomainOrder(order)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateEvent
	}
	return err
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	result := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": string(status), "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *GormOrderRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("status = ? AND expire_at <= ?", string(domain.OrderPending), now).
		Order("expire_at").Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// GormActivityRepository 同时实现 ActivityRepository 和只读的 ActivityView。
type GormActivityRepository struct {
	db *gorm.DB
}

func NewGormActivityRepository(db *gorm.DB) *GormActivityRepository {
	return &GormActivityRepository{db: db}
}

func (r *GormActivityRepository) Create(ctx context.Context, activity *domain.Activity) error {
	return r.db.WithContext(ctx).Create(fromDomainActivity(activity)).Error
}

// Save 带前置状态的条件更新，RowsAffected 闸门和清扫事务是同一套写法：
// 输掉竞争的一方拿到 ErrStaleActivity，绝不会把状态往回写。
func (r *GormActivityRepository) Save(ctx context.Context, activity *domain.Activity, from domain.ActivityState) error {
	result := r.db.WithContext(ctx).Model(&ActivityModel{}).
		Where("id = ? AND state = ?", activity.ID, string(from)).
		Updates(map[string]interface{}{
			"state":      string(activity.State),
			"updated_at": activity.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStaleActivity
	}
	return nil
}

func (r *GormActivityRepository) FindByID(ctx context.Context, id string) (*domain.Activity, error) {
	var model ActivityModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, err
	}
	return toDomainActivity(&model), nil
}

func (r *GormActivityRepository) FindByStates(ctx context.Context, states ...domain.ActivityState) ([]*domain.Activity, error) {
	raw := make([]string, len(states))
	for i, s := range states {
		raw[i] = string(s)
	}
	var models []*ActivityModel
	if err := r.db.WithContext(ctx).Where("state IN ?", raw).Find(&models).Error; err != nil {
		return nil, err
	}
	acts := make([]*domain.Activity, len(models))
	for i, m := range models {
		acts[i] = toDomainActivity(m)
	}
	return acts, nil
}

func (r *GormActivityRepository) ActiveForSKU(ctx context.Context, skuID string) (*domain.Activity, error) {
	var model ActivityModel
	err := r.db.WithContext(ctx).
		Where("sku_id = ? AND state = ?", skuID, string(domain.ActivityActive)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrActivityNotActive
		}
		return nil, err
	}
	return toDomainActivity(&model), nil
}

// GormStockLedger 是权威库存账本的 GORM 实现。
// 每次变动 = 流水插入 + 条件更新，同一个事务内完成：
// 流水表的唯一索引挡重复，条件更新挡负库存。
type GormStockLedger struct {
	db *gorm.DB
}

func NewGormStockLedger(db *gorm.DB) *GormStockLedger {
	return &GormStockLedger{db: db}
}

func (l *GormStockLedger) Deduct(ctx context.Context, skuID string, quantity int64, referenceID string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyLedgerChange(tx, skuID, -quantity, referenceID, domain.TransactionDeduct)
	})
}

func (l *GormStockLedger) Restock(ctx context.Context, skuID string, quantity int64, referenceID string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyLedgerChange(tx, skuID, quantity, referenceID, domain.TransactionRestock)
	})
}

func (l *GormStockLedger) HasTransaction(ctx context.Context, referenceID string, txType domain.TransactionType) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&StockTransactionModel{}).
		Where("reference_id = ? AND type = ?", referenceID, string(txType)).
		Count(&count).Error
	return count > 0, err
}

func (l *GormStockLedger) Get(ctx context.Context, skuID string) (*domain.StockRecord, error) {
	var model StockItemModel
	err := l.db.WithContext(ctx).Where("sku_id = ?", skuID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInsufficientStock
		}
		return nil, err
	}
	return toDomainStockRecord(&model), nil
}

// applyLedgerChange 在给定事务里落一笔账。delta 为负表示扣减。
// 流水重复键说明这笔引用已经落过账，按幂等语义静默成功；
// GORM 在重复键时回滚的只是这一层嵌套事务的保存点，外层事务不受影响。
func applyLedgerChange(tx *gorm.DB, skuID string, delta int64, referenceID string, txType domain.TransactionType) error {
	journal := &StockTransactionModel{
		SKUID:       skuID,
		Type:        string(txType),
		Quantity:    delta,
		ReferenceID: referenceID,
		CreatedAt:   time.Now(),
	}
	if err := tx.Create(journal).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	}

	query := tx.Model(&StockItemModel{}).Where("sku_id = ?", skuID)
	if delta < 0 {
		// 条件带上余量检查，数据库层面保证 Available 永不为负
		query = query.Where("available >= ?", -delta)
	}
	result := query.Updates(map[string]interface{}{
		"available":  gorm.Expr("available + ?", delta),
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 回滚流水插入，整笔变动原子地不发生
		return domain.ErrInsufficientStock
	}
	return nil
}

// GormSweepRepository 实现过期订单的原子清扫。
type GormSweepRepository struct {
	db *gorm.DB
}

func NewGormSweepRepository(db *gorm.DB) *GormSweepRepository {
	return &GormSweepRepository{db: db}
}

// ExpireAndRestock 在一个事务里完成：订单条件置过期、账本回补、流水落账。
// status = PENDING 的条件更新是幂等闸门——多个清扫实例抢同一个订单时，
// 只有一个能把 RowsAffected 推到 1，其余拿到 swept=false 直接跳过。
func (r *GormSweepRepository) ExpireAndRestock(ctx context.Context, orderID string, now time.Time) (*domain.Order, bool, error) {
	var order *domain.Order
	swept := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ? AND expire_at <= ?", orderID, string(domain.OrderPending), now).
			Updates(map[string]interface{}{"status": string(domain.OrderExpired), "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil // 已被别人清扫或已支付
		}

		var model OrderModel
		if err := tx.Where("id = ?", orderID).First(&model).Error; err != nil {
			return err
		}
		order = toDomainOrder(&model)

		if err := applyLedgerChange(tx, order.SKUID, order.Quantity, "expire:"+orderID, domain.TransactionRestock); err != nil {
			return err
		}
		swept = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return order, swept, nil
}
