// internal/service/seckill/application/scheduler_test.go
package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"flashmart/internal/service/seckill/domain"
)

type schedulerFixture struct {
	sched  *Scheduler
	repo   *fakeActivityRepo
	orders *fakeOrderRepo
	ledger *fakeLedger
	script *fakeScript
	locks  *fakeLockManager
}

func newSchedulerFixture(acts ...*domain.Activity) *schedulerFixture {
	f := &schedulerFixture{
		repo:   newFakeActivityRepo(acts...),
		orders: newFakeOrderRepo(),
		ledger: newFakeLedger(),
		script: newFakeScript(),
		locks:  &fakeLockManager{},
	}
	sweeper := &fakeSweeper{orders: f.orders, ledger: f.ledger}
	f.sched = NewScheduler(f.repo, f.orders, sweeper, f.script, f.locks, testTracer(),
		5*time.Minute, time.Second, 100)
	return f
}

func TestActivitySweepWarmsUp(t *testing.T) {
	start := time.Now().Add(time.Hour)
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, start.Add(time.Hour), 100, 1)
	f := newSchedulerFixture(a)
	ctx := context.Background()

	// 还没到预热时间点
	f.sched.nowFunc = func() time.Time { return start.Add(-10 * time.Minute) }
	if err := f.sched.RunActivitySweep(ctx); err != nil {
		t.Fatalf("RunActivitySweep: %v", err)
	}
	if a.State != domain.ActivityScheduled {
		t.Fatalf("too early, must stay SCHEDULED, got %s", a.State)
	}

	// 到达开始前 5 分钟
	f.sched.nowFunc = func() time.Time { return start.Add(-5 * time.Minute) }
	if err := f.sched.RunActivitySweep(ctx); err != nil {
		t.Fatalf("RunActivitySweep: %v", err)
	}
	if a.State != domain.ActivityWarmedUp {
		t.Fatalf("want WARMED_UP, got %s", a.State)
	}
	if remaining, _ := f.script.Remaining(ctx, "sku-1"); remaining != 100 {
		t.Fatalf("counter must be warmed to 100, got %d", remaining)
	}
}

func TestActivitySweepActivatesAndEnds(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Hour)
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, end, 100, 1)
	a.MarkWarmedUp()
	f := newSchedulerFixture(a)
	ctx := context.Background()

	f.sched.nowFunc = func() time.Time { return start.Add(time.Second) }
	if err := f.sched.RunActivitySweep(ctx); err != nil {
		t.Fatalf("RunActivitySweep: %v", err)
	}
	if a.State != domain.ActivityActive {
		t.Fatalf("want ACTIVE, got %s", a.State)
	}

	f.sched.nowFunc = func() time.Time { return end }
	if err := f.sched.RunActivitySweep(ctx); err != nil {
		t.Fatalf("RunActivitySweep: %v", err)
	}
	if a.State != domain.ActivityEnded {
		t.Fatalf("want ENDED, got %s", a.State)
	}
}

func TestActivitySweepEndsWhenStockExhausted(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, start.Add(time.Hour), 100, 1)
	a.MarkWarmedUp()
	a.MarkActive(time.Now())
	f := newSchedulerFixture(a)
	f.script.warm("sku-1", 0)
	ctx := context.Background()

	// 窗口还没关，但库存已经卖空
	if err := f.sched.RunActivitySweep(ctx); err != nil {
		t.Fatalf("RunActivitySweep: %v", err)
	}
	if a.State != domain.ActivityEnded {
		t.Fatalf("stock exhausted: want ENDED, got %s", a.State)
	}
	// 收尾后计数器随活动下线
	if _, err := f.script.Remaining(ctx, "sku-1"); !errors.Is(err, domain.ErrNotWarmedUp) {
		t.Fatalf("counter must be retired after end, got %v", err)
	}
}

func TestActivitySweepStaysActiveWithStockLeft(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, start.Add(time.Hour), 100, 1)
	a.MarkWarmedUp()
	a.MarkActive(time.Now())
	f := newSchedulerFixture(a)
	f.script.warm("sku-1", 7)

	if err := f.sched.RunActivitySweep(context.Background()); err != nil {
		t.Fatalf("RunActivitySweep: %v", err)
	}
	if a.State != domain.ActivityActive {
		t.Fatalf("stock left and window open, must stay ACTIVE, got %s", a.State)
	}
}

func TestActivityEndLosesRaceGracefully(t *testing.T) {
	start := time.Now().Add(-2 * time.Hour)
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, start.Add(time.Hour), 100, 1)
	a.MarkWarmedUp()
	a.MarkActive(start)
	f := newSchedulerFixture(a)

	// 另一个实例已经把数据库里的状态推进到 ENDED
	f.repo.persisted["act-1"] = domain.ActivityEnded

	if err := f.sched.RunActivitySweep(context.Background()); err != nil {
		t.Fatalf("losing the save race must not be an error: %v", err)
	}
	if f.repo.saves != 0 {
		t.Fatalf("stale save must not go through, got %d saves", f.repo.saves)
	}
}

func TestActivitySweepEndsMissedWindow(t *testing.T) {
	start := time.Now().Add(-2 * time.Hour)
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, start.Add(time.Hour), 100, 1)
	a.MarkWarmedUp()
	f := newSchedulerFixture(a)

	// 调度器停机太久，整个窗口已经错过
	if err := f.sched.RunActivitySweep(context.Background()); err != nil {
		t.Fatalf("RunActivitySweep: %v", err)
	}
	if a.State != domain.ActivityEnded {
		t.Fatalf("missed window must go straight to ENDED, got %s", a.State)
	}
}

func TestWarmUpRechecksStateUnderLock(t *testing.T) {
	start := time.Now()
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, start.Add(time.Hour), 100, 1)
	a.MarkWarmedUp()
	f := newSchedulerFixture(a)
	ctx := context.Background()

	// 手里的副本还停留在 SCHEDULED：同一个 tick 里另一个实例已经抢先预热完
	stale := *a
	stale.State = domain.ActivityScheduled
	if err := f.sched.WarmUp(ctx, &stale); err != nil {
		t.Fatalf("WarmUp with stale copy: %v", err)
	}
	if f.repo.saves != 0 {
		t.Fatal("stale warm-up must not write the activity")
	}
	if _, err := f.script.Remaining(ctx, "sku-1"); !errors.Is(err, domain.ErrNotWarmedUp) {
		t.Fatal("stale warm-up must not rewarm the counter")
	}
}

func TestWarmUpSkipsWhenLockBusy(t *testing.T) {
	start := time.Now()
	a, _ := domain.NewActivity("act-1", "Drop", "sku-1", start, start.Add(time.Hour), 100, 1)
	f := newSchedulerFixture(a)
	f.locks.busy = true

	// 别的实例正在预热，本实例跳过且不报错
	if err := f.sched.WarmUp(context.Background(), a); err != nil {
		t.Fatalf("WarmUp with busy lock: %v", err)
	}
	if a.State != domain.ActivityScheduled {
		t.Fatalf("state must be unchanged, got %s", a.State)
	}
}

func TestExpirySweepRestocksOnce(t *testing.T) {
	f := newSchedulerFixture()
	f.script.warm("sku-1", 10)
	f.ledger.stock["sku-1"] = 10
	ctx := context.Background()

	now := time.Now()
	order := &domain.Order{
		ID: "evt-1", ActivityID: "act-1", SKUID: "sku-1", UserID: "user-1",
		Quantity: 2, Status: domain.OrderPending, ExpireAt: now.Add(-time.Minute),
	}
	f.orders.Create(ctx, order)
	f.sched.nowFunc = func() time.Time { return now }

	if err := f.sched.RunExpirySweep(ctx); err != nil {
		t.Fatalf("RunExpirySweep: %v", err)
	}

	got, _ := f.orders.FindByID(ctx, "evt-1")
	if got.Status != domain.OrderExpired {
		t.Fatalf("want EXPIRED, got %s", got.Status)
	}
	if f.ledger.stock["sku-1"] != 12 {
		t.Fatalf("ledger must be restocked, got %d", f.ledger.stock["sku-1"])
	}
	if remaining, _ := f.script.Remaining(ctx, "sku-1"); remaining != 12 {
		t.Fatalf("counter must be restocked, got %d", remaining)
	}

	// 第二次清扫必须是空操作
	if err := f.sched.RunExpirySweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if f.ledger.stock["sku-1"] != 12 {
		t.Fatalf("double sweep must not restock twice, got %d", f.ledger.stock["sku-1"])
	}
	if remaining, _ := f.script.Remaining(ctx, "sku-1"); remaining != 12 {
		t.Fatalf("double sweep must not touch the counter, got %d", remaining)
	}
}

func TestExpirySweepSkipsConfirmedOrders(t *testing.T) {
	f := newSchedulerFixture()
	f.script.warm("sku-1", 10)
	ctx := context.Background()

	now := time.Now()
	order := &domain.Order{
		ID: "evt-1", SKUID: "sku-1", UserID: "user-1",
		Quantity: 2, Status: domain.OrderConfirmed, ExpireAt: now.Add(-time.Minute),
	}
	f.orders.Create(ctx, order)
	f.sched.nowFunc = func() time.Time { return now }

	if err := f.sched.RunExpirySweep(ctx); err != nil {
		t.Fatalf("RunExpirySweep: %v", err)
	}
	got, _ := f.orders.FindByID(ctx, "evt-1")
	if got.Status != domain.OrderConfirmed {
		t.Fatalf("confirmed order must be untouched, got %s", got.Status)
	}
	if remaining, _ := f.script.Remaining(ctx, "sku-1"); remaining != 10 {
		t.Fatalf("no restock may happen, got %d", remaining)
	}
}
