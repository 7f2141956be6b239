// internal/service/seckill/domain/port/rules.go
package port

// PurchaseFact 是资格规则的输入事实。
type PurchaseFact struct {
	UserID    string `json:"user_id"`
	SKUID     string `json:"sku_id"`
	Quantity  int64  `json:"quantity"`
	IsBlocked bool   `json:"is_blocked"`
}

// EligibilityEngine 在加锁之前评估下单资格（数量上限、黑名单等）。
// 规则以表达式形式下发，由基础设施层的规则引擎实现。
type EligibilityEngine interface {
	Allow(fact PurchaseFact) (bool, error)
}
