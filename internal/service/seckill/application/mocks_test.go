// internal/service/seckill/application/mocks_test.go
package application

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"flashmart/internal/pkg/lock"
	"flashmart/internal/service/seckill/domain"
	"flashmart/internal/service/seckill/domain/port"
)

func testTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("test")
}

// fakeLockManager 默认放行所有加锁请求，busy 置位后全部返回 ErrBusy。
type fakeLockManager struct {
	mu       sync.Mutex
	busy     bool
	acquired int
	released int
}

func (m *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return nil, lock.ErrBusy
	}
	m.acquired++
	return &lock.Lease{Key: key, Token: "token", TTL: ttl}, nil
}

func (m *fakeLockManager) Release(ctx context.Context, lease *lock.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

func (m *fakeLockManager) Extend(ctx context.Context, lease *lock.Lease, ttl time.Duration) error {
	return nil
}

// fakeScript 在内存里复刻扣减脚本的语义：检查和扣减在一把互斥锁内完成。
type fakeScript struct {
	mu      sync.Mutex
	stock   map[string]int64
	bought  map[string]map[string]int64 // sku -> user -> 累计数量
	warmed  map[string]bool
	restock int // Restock 调用次数

	restockErr error
	deductErr  error
}

func newFakeScript() *fakeScript {
	return &fakeScript{
		stock:  make(map[string]int64),
		bought: make(map[string]map[string]int64),
		warmed: make(map[string]bool),
	}
}

func (s *fakeScript) warm(skuID string, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[skuID] = quantity
	s.bought[skuID] = make(map[string]int64)
	s.warmed[skuID] = true
}

func (s *fakeScript) TryDeduct(ctx context.Context, skuID, userID string, quantity, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deductErr != nil {
		return 0, s.deductErr
	}
	if !s.warmed[skuID] {
		return 0, domain.ErrNotWarmedUp
	}
	if s.bought[skuID][userID]+quantity > limit {
		return 0, domain.ErrPurchaseLimitExceeded
	}
	if s.stock[skuID] < quantity {
		return 0, domain.ErrInsufficientStock
	}
	s.stock[skuID] -= quantity
	s.bought[skuID][userID] += quantity
	return s.stock[skuID], nil
}

func (s *fakeScript) Restock(ctx context.Context, skuID string, quantity int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restock++
	if s.restockErr != nil {
		return 0, s.restockErr
	}
	if !s.warmed[skuID] {
		return 0, domain.ErrNotWarmedUp
	}
	s.stock[skuID] += quantity
	return s.stock[skuID], nil
}

func (s *fakeScript) Warm(ctx context.Context, skuID string, quantity int64) error {
	s.warm(skuID, quantity)
	return nil
}

func (s *fakeScript) Retire(ctx context.Context, skuID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stock, skuID)
	delete(s.bought, skuID)
	delete(s.warmed, skuID)
	return nil
}

func (s *fakeScript) Remaining(ctx context.Context, skuID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.warmed[skuID] {
		return 0, domain.ErrNotWarmedUp
	}
	return s.stock[skuID], nil
}

type fakeProducer struct {
	mu     sync.Mutex
	events []*domain.DeductionSucceeded
	err    error
}

func (p *fakeProducer) Produce(ctx context.Context, event *domain.DeductionSucceeded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type fakeAlertProducer struct {
	mu     sync.Mutex
	alerts []*domain.LowStockAlert
	done   chan struct{} // 每次成功投递发一个信号，测试用它等待异步投递
	err    error
}

func newFakeAlertProducer() *fakeAlertProducer {
	return &fakeAlertProducer{done: make(chan struct{}, 16)}
}

func (p *fakeAlertProducer) Produce(ctx context.Context, alert *domain.LowStockAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.alerts = append(p.alerts, alert)
	p.done <- struct{}{}
	return nil
}

type fakeDebouncer struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDebouncer() *fakeDebouncer {
	return &fakeDebouncer{seen: make(map[string]bool)}
}

func (d *fakeDebouncer) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type fakeStatusStore struct {
	mu       sync.Mutex
	statuses map[string]*port.RequestStatus
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{statuses: make(map[string]*port.RequestStatus)}
}

func (s *fakeStatusStore) Init(ctx context.Context, requestID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[requestID] = &port.RequestStatus{Status: port.RequestProcessing, UserID: userID}
	return nil
}

func (s *fakeStatusStore) MarkSuccess(ctx context.Context, requestID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[requestID]
	if !ok {
		status = &port.RequestStatus{}
		s.statuses[requestID] = status
	}
	status.Status = port.RequestSuccess
	status.OrderID = orderID
	return nil
}

func (s *fakeStatusStore) MarkFailed(ctx context.Context, requestID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[requestID]
	if !ok {
		status = &port.RequestStatus{}
		s.statuses[requestID] = status
	}
	status.Status = port.RequestFailed
	status.Message = reason
	return nil
}

func (s *fakeStatusStore) Get(ctx context.Context, requestID string) (*port.RequestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[requestID]
	if !ok {
		return nil, nil
	}
	copied := *status
	return &copied, nil
}

type fakeRules struct {
	allow bool
	err   error
}

func (r *fakeRules) Allow(fact port.PurchaseFact) (bool, error) {
	return r.allow, r.err
}

// fakeActivityRepo 同时充当 ActivityRepository 和 ActivityView。
// persisted 单独记录"数据库里"的状态，给条件更新的 Save 用。
type fakeActivityRepo struct {
	mu         sync.Mutex
	activities map[string]*domain.Activity
	persisted  map[string]domain.ActivityState
	saves      int
}

func newFakeActivityRepo(acts ...*domain.Activity) *fakeActivityRepo {
	r := &fakeActivityRepo{
		activities: make(map[string]*domain.Activity),
		persisted:  make(map[string]domain.ActivityState),
	}
	for _, a := range acts {
		r.activities[a.ID] = a
		r.persisted[a.ID] = a.State
	}
	return r
}

func (r *fakeActivityRepo) Create(ctx context.Context, a *domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[a.ID] = a
	r.persisted[a.ID] = a.State
	return nil
}

func (r *fakeActivityRepo) Save(ctx context.Context, a *domain.Activity, from domain.ActivityState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persisted[a.ID] != from {
		return domain.ErrStaleActivity
	}
	r.saves++
	r.activities[a.ID] = a
	r.persisted[a.ID] = a.State
	return nil
}

func (r *fakeActivityRepo) FindByID(ctx context.Context, id string) (*domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.activities[id]
	if !ok {
		return nil, domain.ErrActivityNotFound
	}
	return a, nil
}

func (r *fakeActivityRepo) FindByStates(ctx context.Context, states ...domain.ActivityState) ([]*domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Activity
	for _, a := range r.activities {
		for _, s := range states {
			if a.State == s {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeActivityRepo) ActiveForSKU(ctx context.Context, skuID string) (*domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.activities {
		if a.SKUID == skuID && a.State == domain.ActivityActive {
			return a, nil
		}
	}
	return nil, domain.ErrActivityNotActive
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]*domain.Order)}
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrDuplicateEvent
	}
	copied := *order
	r.orders[order.ID] = &copied
	return nil
}

func (r *fakeOrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *fakeOrderRepo) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (r *fakeOrderRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, order := range r.orders {
		if order.ExpireDue(now) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

type ledgerKey struct {
	ref    string
	txType domain.TransactionType
}

type fakeLedger struct {
	mu        sync.Mutex
	stock     map[string]int64
	journal   map[ledgerKey]int64
	deductErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		stock:   make(map[string]int64),
		journal: make(map[ledgerKey]int64),
	}
}

func (l *fakeLedger) Deduct(ctx context.Context, skuID string, quantity int64, referenceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deductErr != nil {
		return l.deductErr
	}
	key := ledgerKey{referenceID, domain.TransactionDeduct}
	if _, done := l.journal[key]; done {
		return nil
	}
	if l.stock[skuID] < quantity {
		return domain.ErrInsufficientStock
	}
	l.stock[skuID] -= quantity
	l.journal[key] = quantity
	return nil
}

func (l *fakeLedger) Restock(ctx context.Context, skuID string, quantity int64, referenceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey{referenceID, domain.TransactionRestock}
	if _, done := l.journal[key]; done {
		return nil
	}
	l.stock[skuID] += quantity
	l.journal[key] = quantity
	return nil
}

func (l *fakeLedger) HasTransaction(ctx context.Context, referenceID string, txType domain.TransactionType) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.journal[ledgerKey{referenceID, txType}]
	return ok, nil
}

func (l *fakeLedger) Get(ctx context.Context, skuID string) (*domain.StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &domain.StockRecord{SKUID: skuID, Available: l.stock[skuID]}, nil
}

// fakeSweeper 在内存里模拟清扫事务：条件置过期 + 账本回补。
type fakeSweeper struct {
	orders *fakeOrderRepo
	ledger *fakeLedger
}

func (s *fakeSweeper) ExpireAndRestock(ctx context.Context, orderID string, now time.Time) (*domain.Order, bool, error) {
	s.orders.mu.Lock()
	order, ok := s.orders.orders[orderID]
	if !ok || order.Status != domain.OrderPending {
		s.orders.mu.Unlock()
		return nil, false, nil
	}
	order.Status = domain.OrderExpired
	copied := *order
	s.orders.mu.Unlock()

	if err := s.ledger.Restock(ctx, copied.SKUID, copied.Quantity, "expire:"+orderID); err != nil {
		return nil, false, err
	}
	return &copied, true, nil
}
