// internal/service/seckill/infrastructure/mapper.go
package infrastructure

import (
	"flashmart/internal/service/seckill/domain"
)

// toDomainOrder 将数据库模型转换为领域模型。
func toDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:         model.ID,
		ActivityID: model.ActivityID,
		SKUID:      model.SKUID,
		UserID:     model.UserID,
		Quantity:   model.Quantity,
		Status:     domain.OrderStatus(model.Status),
		CreatedAt:  model.CreatedAt,
		ExpireAt:   model.ExpireAt,
		UpdatedAt:  model.UpdatedAt,
	}
}

func fromDomainOrder(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:         o.ID,
		ActivityID: o.ActivityID,
		SKUID:      o.SKUID,
		UserID:     o.UserID,
		Quantity:   o.Quantity,
		Status:     string(o.Status),
		ExpireAt:   o.ExpireAt,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toDomainActivity(model *ActivityModel) *domain.Activity {
	if model == nil {
		return nil
	}
	return &domain.Activity{
		ID:            model.ID,
		Name:          model.Name,
		SKUID:         model.SKUID,
		StartTime:     model.StartTime,
		EndTime:       model.EndTime,
		WarmQuantity:  model.WarmQuantity,
		PurchaseLimit: model.PurchaseLimit,
		State:         domain.ActivityState(model.State),
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

func fromDomainActivity(a *domain.Activity) *ActivityModel {
	return &ActivityModel{
		ID:            a.ID,
		Name:          a.Name,
		SKUID:         a.SKUID,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		WarmQuantity:  a.WarmQuantity,
		PurchaseLimit: a.PurchaseLimit,
		State:         string(a.State),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toDomainStockRecord(model *StockItemModel) *domain.StockRecord {
	if model == nil {
		return nil
	}
	return &domain.StockRecord{
		SKUID:     model.SKUID,
		Available: model.Available,
		Version:   model.Version,
		UpdatedAt: model.UpdatedAt,
	}
}
