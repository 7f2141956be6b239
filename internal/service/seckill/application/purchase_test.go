// internal/service/seckill/application/purchase_test.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"flashmart/internal/pkg/lock"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

type purchaseFixture struct {
	svc      *PurchaseService
	locks    *fakeLockManager
	script   *fakeScript
	producer *fakeProducer
	status   *fakeStatusStore
	alerts   *fakeAlertProducer
	rules    *fakeRules
	repo     *fakeActivityRepo
	activity *domain.Activity
}

func newPurchaseFixture(t *testing.T, purchaseLimit int64) *purchaseFixture {
	t.Helper()
	now := time.Now()
	activity := &domain.Activity{
		ID:            "act-1",
		Name:          "Flash Drop",
		SKUID:         "sku-1",
		StartTime:     now.Add(-time.Minute),
		EndTime:       now.Add(time.Hour),
		WarmQuantity:  100,
		PurchaseLimit: purchaseLimit,
		State:         domain.ActivityActive,
	}

	f := &purchaseFixture{
		locks:    &fakeLockManager{},
		script:   newFakeScript(),
		producer: &fakeProducer{},
		status:   newFakeStatusStore(),
		alerts:   newFakeAlertProducer(),
		rules:    &fakeRules{allow: true},
		repo:     newFakeActivityRepo(activity),
		activity: activity,
	}
	notifier := NewLowStockNotifier(f.alerts, newFakeDebouncer(), 0, time.Minute)
	f.svc = NewPurchaseService(
		f.locks, f.script, f.producer, f.status, notifier, f.rules, f.repo,
		testTracer(), time.Second)
	return f
}

func TestPlaceOrderConcurrentNoOversell(t *testing.T) {
	f := newPurchaseFixture(t, 1)
	f.script.warm("sku-1", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, soldOut := 0, 0
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(ctx, &PurchaseRequest{
				UserID:   fmt.Sprintf("user-%d", i),
				SKUID:    "sku-1",
				Quantity: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 100 {
		t.Fatalf("want exactly 100 successful deductions, got %d", succeeded)
	}
	if soldOut != 50 {
		t.Fatalf("want 50 sold-out rejections, got %d", soldOut)
	}
	if remaining, _ := f.script.Remaining(ctx, "sku-1"); remaining != 0 {
		t.Fatalf("counter must end at zero, got %d", remaining)
	}
	if len(f.producer.events) != 100 {
		t.Fatalf("want one event per successful deduction, got %d", len(f.producer.events))
	}
}

func TestPlaceOrderPurchaseLimit(t *testing.T) {
	f := newPurchaseFixture(t, 2)
	f.script.warm("sku-1", 100)
	ctx := context.Background()
	req := &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 2}

	if _, err := f.svc.PlaceOrder(ctx, req); err != nil {
		t.Fatalf("first order within the limit: %v", err)
	}
	if _, err := f.svc.PlaceOrder(ctx, req); !errors.Is(err, domain.ErrPurchaseLimitExceeded) {
		t.Fatalf("want ErrPurchaseLimitExceeded, got %v", err)
	}
	// 超限的请求不能动库存
	if remaining, _ := f.script.Remaining(ctx, "sku-1"); remaining != 98 {
		t.Fatalf("rejected order must not touch stock, remaining %d", remaining)
	}
}

func TestPlaceOrderExactRemainingStock(t *testing.T) {
	f := newPurchaseFixture(t, 5)
	f.script.warm("sku-1", 3)
	ctx := context.Background()

	resp, err := f.svc.PlaceOrder(ctx, &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 3})
	if err != nil {
		t.Fatalf("deducting the exact remainder must succeed: %v", err)
	}
	if resp.Remaining != 0 {
		t.Fatalf("want remaining 0, got %d", resp.Remaining)
	}
}

func TestPlaceOrderNotEligible(t *testing.T) {
	f := newPurchaseFixture(t, 1)
	f.script.warm("sku-1", 100)
	f.rules.allow = false

	_, err := f.svc.PlaceOrder(context.Background(), &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 1})
	if !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("want ErrNotEligible, got %v", err)
	}
	if f.locks.acquired != 0 {
		t.Fatal("ineligible request must be rejected before taking the lock")
	}
}

func TestPlaceOrderNoActiveActivity(t *testing.T) {
	f := newPurchaseFixture(t, 1)
	f.script.warm("sku-1", 100)
	f.activity.State = domain.ActivityEnded

	_, err := f.svc.PlaceOrder(context.Background(), &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 1})
	if !errors.Is(err, domain.ErrActivityNotActive) {
		t.Fatalf("want ErrActivityNotActive, got %v", err)
	}
}

func TestPlaceOrderNotWarmedUp(t *testing.T) {
	f := newPurchaseFixture(t, 1)

	_, err := f.svc.PlaceOrder(context.Background(), &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 1})
	if !errors.Is(err, domain.ErrNotWarmedUp) {
		t.Fatalf("want ErrNotWarmedUp, got %v", err)
	}
}

func TestPlaceOrderLockBusy(t *testing.T) {
	f := newPurchaseFixture(t, 1)
	f.script.warm("sku-1", 100)
	f.locks.busy = true

	_, err := f.svc.PlaceOrder(context.Background(), &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 1})
	if !errors.Is(err, lock.ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	if remaining, _ := f.script.Remaining(context.Background(), "sku-1"); remaining != 100 {
		t.Fatalf("busy rejection must not touch stock, remaining %d", remaining)
	}
}

func TestPlaceOrderEnqueueFailureCompensates(t *testing.T) {
	f := newPurchaseFixture(t, 1)
	f.script.warm("sku-1", 100)
	f.producer.err = errors.New("kafka unavailable")
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 1})
	if err == nil {
		t.Fatal("enqueue failure must surface to the caller")
	}
	// 扣减必须被补偿回去
	if remaining, _ := f.script.Remaining(ctx, "sku-1"); remaining != 100 {
		t.Fatalf("deduction must be compensated, remaining %d", remaining)
	}
	if f.locks.released != f.locks.acquired {
		t.Fatal("lock must be released on the failure path")
	}
	// 轮询方必须拿到终态，而不是等 PROCESSING 状态的 TTL 过期
	f.status.mu.Lock()
	var st *port.RequestStatus
	for _, s := range f.status.statuses {
		st = s
	}
	f.status.mu.Unlock()
	if st == nil || st.Status != port.RequestFailed {
		t.Fatalf("request status must reach FAILED, got %+v", st)
	}
}

func TestRequestStatusOwnership(t *testing.T) {
	f := newPurchaseFixture(t, 1)
	f.script.warm("sku-1", 100)
	ctx := context.Background()

	resp, err := f.svc.PlaceOrder(ctx, &PurchaseRequest{UserID: "user-1", SKUID: "sku-1", Quantity: 1})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	status, err := f.svc.RequestStatus(ctx, resp.RequestID, "user-1")
	if err != nil || status == nil {
		t.Fatalf("owner must see the status, got (%v, %v)", status, err)
	}

	if _, err := f.svc.RequestStatus(ctx, resp.RequestID, "user-2"); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("foreign user must be rejected, got %v", err)
	}

	status, err = f.svc.RequestStatus(ctx, "missing", "user-1")
	if err != nil || status != nil {
		t.Fatalf("missing request must yield (nil, nil), got (%v, %v)", status, err)
	}
}
