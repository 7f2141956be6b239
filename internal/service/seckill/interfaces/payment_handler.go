// internal/service/seckill/interfaces/payment_handler.go
package interfaces

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

// PaymentHandler 接收支付网关的确认回调。
// 回调带 HMAC-SHA256 签名，验签失败一律拒绝；
// 订单已过确认窗口（被清扫成 EXPIRED）时返回 409，由支付侧走退款。
type PaymentHandler struct {
	orders domain.OrderRepository
	status port.RequestStatusStore
	secret []byte
}

func NewPaymentHandler(orders domain.OrderRepository, status port.RequestStatusStore, secret string) *PaymentHandler {
	return &PaymentHandler{orders: orders, status: status, secret: []byte(secret)}
}

func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /payment/confirm", h.callbackHandler)
}

type paymentCallback struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Signature     string `json:"signature"`
}

func (h *PaymentHandler) callbackHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var cb paymentCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if cb.OrderID == "" || cb.TransactionID == "" {
		http.Error(w, "order_id and transaction_id are required", http.StatusBadRequest)
		return
	}

	if !h.verify(cb) {
		logger.Ctx(ctx).Warn().Str("order_id", cb.OrderID).Msg("Payment callback with invalid signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	order, err := h.orders.FindByID(ctx, cb.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("order_id", cb.OrderID).Msg("Failed to load order for payment callback")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if order.Status == domain.OrderConfirmed {
		// 支付网关重试回调，幂等成功
		writeJSON(w, http.StatusOK, map[string]string{"status": string(order.Status)})
		return
	}
	if err := order.Confirm(); err != nil {
		// 订单已过期或已取消，库存早已回补，支付侧需要退款
		http.Error(w, "order is no longer payable", http.StatusConflict)
		return
	}
	if err := h.orders.UpdateStatus(ctx, order.ID, domain.OrderConfirmed); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("Failed to confirm order")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).Str("transaction_id", cb.TransactionID).
		Msg("✅ Order confirmed by payment gateway")
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.OrderConfirmed)})
}

func (h *PaymentHandler) verify(cb paymentCallback) bool {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(cb.OrderID + "." + cb.TransactionID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(cb.Signature))
}
