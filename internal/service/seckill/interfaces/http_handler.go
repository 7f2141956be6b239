// internal/service/seckill/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"flashmart/internal/pkg/lock"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/seckill/application"
	"flashmart/internal/service/seckill/domain"
)

// SeckillHandler 封装秒杀服务的 HTTP 处理器。
type SeckillHandler struct {
	purchase *application.PurchaseService
	admin    *application.ActivityService
}

func NewSeckillHandler(purchase *application.PurchaseService, admin *application.ActivityService) *SeckillHandler {
	return &SeckillHandler{purchase: purchase, admin: admin}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *SeckillHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /seckill/purchase", h.purchaseHandler)
	mux.HandleFunc("GET /seckill/requests/{id}", h.requestStatusHandler)

	mux.HandleFunc("POST /admin/activities", h.createActivityHandler)
	mux.HandleFunc("GET /admin/activities", h.listActivitiesHandler)
	mux.HandleFunc("POST /admin/activities/{id}/preload", h.preloadHandler)
}

func (h *SeckillHandler) purchaseHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.SKUID == "" || req.Quantity <= 0 {
		http.Error(w, "user_id, sku_id and positive quantity are required", http.StatusBadRequest)
		return
	}
	// 风控协作方通过网关注入的标记
	req.IsBlocked = r.Header.Get("X-Risk-Blocked") == "true"

	resp, err := h.purchase.PlaceOrder(ctx, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *SeckillHandler) requestStatusHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	status, err := h.purchase.RequestStatus(ctx, r.PathValue("id"), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if status == nil {
		http.Error(w, "request not found or expired", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *SeckillHandler) createActivityHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.admin.CreateActivity(ctx, &req)
	if err != nil {
		if errors.Is(err, application.ErrInvalidTimeFormat) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *SeckillHandler) listActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := h.admin.ListPending(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SeckillHandler) preloadHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.admin.Preload(ctx, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError 把领域错误翻译成 HTTP 状态码。
// 库存不足和限购超额是正常业务结果，不打错误日志。
func (h *SeckillHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lock.ErrBusy):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "system busy, please retry", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrInsufficientStock):
		http.Error(w, "sold out", http.StatusConflict)
	case errors.Is(err, domain.ErrPurchaseLimitExceeded):
		http.Error(w, "purchase limit exceeded", http.StatusForbidden)
	case errors.Is(err, domain.ErrNotEligible):
		http.Error(w, "not eligible", http.StatusForbidden)
	case errors.Is(err, domain.ErrNotWarmedUp), errors.Is(err, domain.ErrActivityNotActive):
		http.Error(w, "activity is not active", http.StatusConflict)
	case errors.Is(err, domain.ErrActivityNotFound):
		http.Error(w, "activity not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrOrderNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidActivity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
