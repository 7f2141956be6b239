// internal/service/seckill/interfaces/payment_handler_test.go
package interfaces

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

const testSecret = "test-secret"

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newMemOrderRepo(orders ...*domain.Order) *memOrderRepo {
	r := &memOrderRepo{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return domain.ErrDuplicateEvent
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *memOrderRepo) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (r *memOrderRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return nil, nil
}

type nopStatusStore struct{}

func (nopStatusStore) Init(ctx context.Context, requestID, userID string) error        { return nil }
func (nopStatusStore) MarkSuccess(ctx context.Context, requestID, orderID string) error { return nil }
func (nopStatusStore) MarkFailed(ctx context.Context, requestID, reason string) error   { return nil }
func (nopStatusStore) Get(ctx context.Context, requestID string) (*port.RequestStatus, error) {
	return nil, nil
}

func sign(orderID, transactionID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(orderID + "." + transactionID))
	return hex.EncodeToString(mac.Sum(nil))
}

func postCallback(t *testing.T, mux *http.ServeMux, cb paymentCallback) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(cb)
	req := httptest.NewRequest(http.MethodPost, "/payment/confirm", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func pendingOrder(id string) *domain.Order {
	return &domain.Order{
		ID: id, SKUID: "sku-1", UserID: "user-1", Quantity: 1,
		Status: domain.OrderPending, ExpireAt: time.Now().Add(15 * time.Minute),
	}
}

func newPaymentMux(repo *memOrderRepo) *http.ServeMux {
	mux := http.NewServeMux()
	NewPaymentHandler(repo, nopStatusStore{}, testSecret).RegisterRoutes(mux)
	return mux
}

func TestPaymentCallbackConfirmsOrder(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	mux := newPaymentMux(repo)

	rec := postCallback(t, mux, paymentCallback{
		OrderID: "order-1", TransactionID: "txn-1", Signature: sign("order-1", "txn-1"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}

	order, _ := repo.FindByID(context.Background(), "order-1")
	if order.Status != domain.OrderConfirmed {
		t.Fatalf("want CONFIRMED, got %s", order.Status)
	}

	// 支付网关重试回调：幂等成功
	rec = postCallback(t, mux, paymentCallback{
		OrderID: "order-1", TransactionID: "txn-1", Signature: sign("order-1", "txn-1"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("retried callback must be idempotent, got %d", rec.Code)
	}
}

func TestPaymentCallbackRejectsBadSignature(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	mux := newPaymentMux(repo)

	rec := postCallback(t, mux, paymentCallback{
		OrderID: "order-1", TransactionID: "txn-1", Signature: "forged",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}

	order, _ := repo.FindByID(context.Background(), "order-1")
	if order.Status != domain.OrderPending {
		t.Fatalf("order must be untouched, got %s", order.Status)
	}
}

func TestPaymentCallbackExpiredOrder(t *testing.T) {
	order := pendingOrder("order-1")
	order.Status = domain.OrderExpired
	mux := newPaymentMux(newMemOrderRepo(order))

	rec := postCallback(t, mux, paymentCallback{
		OrderID: "order-1", TransactionID: "txn-1", Signature: sign("order-1", "txn-1"),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expired order must yield 409, got %d", rec.Code)
	}
}

func TestPaymentCallbackUnknownOrder(t *testing.T) {
	mux := newPaymentMux(newMemOrderRepo())

	rec := postCallback(t, mux, paymentCallback{
		OrderID: "missing", TransactionID: "txn-1", Signature: sign("missing", "txn-1"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}
