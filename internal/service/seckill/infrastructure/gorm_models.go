// internal/service/seckill/infrastructure/gorm_models.go
package infrastructure

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NewDB 建立 MySQL 连接并迁移表结构。
// TranslateError 让方言层的重复键错误统一成 gorm.ErrDuplicatedKey，
// 仓储靠它识别重复投递。
func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&OrderModel{},
		&ActivityModel{},
		&StockItemModel{},
		&StockTransactionModel{},
	); err != nil {
		return nil, err
	}
	return db, nil
}

// OrderModel 对应数据库中的 seckill_order 表。
// 主键就是扣减事件的 event_id，重复投递在这里撞主键。
type OrderModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	ActivityID string    `gorm:"size:64;index"`
	SKUID      string    `gorm:"column:sku_id;size:64;index"`
	UserID     string    `gorm:"size:64;index"`
	Quantity   int64
	Status     string    `gorm:"size:16;index:idx_status_expire"`
	ExpireAt   time.Time `gorm:"index:idx_status_expire"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (OrderModel) TableName() string {
	return "seckill_order"
}

// ActivityModel 对应数据库中的 seckill_activity 表。
type ActivityModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:128"`
	SKUID         string `gorm:"column:sku_id;size:64;index"`
	StartTime     time.Time
	EndTime       time.Time
	WarmQuantity  int64
	PurchaseLimit int64
	State         string `gorm:"size:16;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ActivityModel) TableName() string {
	return "seckill_activity"
}

// StockItemModel 对应权威库存账本 stock_item 表。
type StockItemModel struct {
	SKUID     string `gorm:"column:sku_id;primaryKey;size:64"`
	Available int64
	Version   int64
	UpdatedAt time.Time
}

func (StockItemModel) TableName() string {
	return "stock_item"
}

// StockTransactionModel 对应账本流水 stock_transaction 表。
// (reference_id, type) 上的唯一索引是账本幂等性的最后防线。
type StockTransactionModel struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	SKUID       string `gorm:"column:sku_id;size:64;index"`
	Type        string `gorm:"size:16;uniqueIndex:uk_ref_type"`
	Quantity    int64
	ReferenceID string `gorm:"size:128;uniqueIndex:uk_ref_type"`
	CreatedAt   time.Time
}

func (StockTransactionModel) TableName() string {
	return "stock_transaction"
}
