//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/codes"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/adapter"
	"storefront-payments/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func now() time.Time { return time.Now().Truncate(time.Millisecond) }

// =============================
// Repositories
// =============================

// ---- Mock PaymentIntentRepository ----

type MockIntentRepo struct {
	mu      sync.Mutex
	byOrder map[string]*model.PaymentIntent

	SaveFunc          func(ctx context.Context, qx any, p *model.PaymentIntent) error
	UpdateStateIfFunc func(ctx context.Context, qx any, id string, from, to model.IntentState, p *model.PaymentIntent) error

	Calls struct {
		Save          int
		UpdateStateIf []string // "from->to"
	}
}

var _ repository.PaymentIntentRepository = (*MockIntentRepo)(nil)

func NewMockIntentRepo() *MockIntentRepo {
	return &MockIntentRepo{byOrder: make(map[string]*model.PaymentIntent)}
}

func (m *MockIntentRepo) put(p *model.PaymentIntent) {
	cp := *p
	m.byOrder[p.OrderRef] = &cp
}

func (m *MockIntentRepo) Save(ctx context.Context, qx any, p *model.PaymentIntent) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, qx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.Save++
	m.put(p)
	return nil
}

func (m *MockIntentRepo) FindByID(ctx context.Context, qx any, id string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byOrder {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockIntentRepo) FindByOrderRef(ctx context.Context, qx any, orderRef string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byOrder[orderRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockIntentRepo) FindByGatewayRef(ctx context.Context, qx any, gateway model.GatewayName, gatewayRef string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byOrder {
		if p.Gateway == gateway && p.GatewayRef == gatewayRef {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockIntentRepo) UpdateStateIf(ctx context.Context, qx any, id string, from, to model.IntentState, p *model.PaymentIntent) error {
	if m.UpdateStateIfFunc != nil {
		return m.UpdateStateIfFunc(ctx, qx, id, from, to, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls.UpdateStateIf = append(m.Calls.UpdateStateIf, string(from)+"->"+string(to))
	for _, stored := range m.byOrder {
		if stored.ID == id {
			if stored.State != from {
				return domain.ErrInvalidTransition
			}
			m.put(p)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockIntentRepo) ListByState(ctx context.Context, qx any, state model.IntentState, limit int) ([]*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentIntent
	for _, p := range m.byOrder {
		if p.State == state {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Stored returns the current copy for assertions.
func (m *MockIntentRepo) Stored(orderRef string) *model.PaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byOrder[orderRef]
}

// ---- Mock LedgerRepository ----

type MockLedgerRepo struct {
	mu      sync.Mutex
	Entries []*model.LedgerEntry
	balance map[string]int64

	ApplyFunc func(ctx context.Context, qx any, e *model.LedgerEntry) error
}

var _ repository.LedgerRepository = (*MockLedgerRepo)(nil)

func NewMockLedgerRepo() *MockLedgerRepo {
	return &MockLedgerRepo{balance: make(map[string]int64)}
}

func (m *MockLedgerRepo) Apply(ctx context.Context, qx any, e *model.LedgerEntry) error {
	if m.ApplyFunc != nil {
		return m.ApplyFunc(ctx, qx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prev := range m.Entries {
		if prev.IntentID == e.IntentID && prev.Direction == e.Direction {
			return domain.ErrDuplicateEntry
		}
	}
	prev := m.balance[e.AccountRef]
	var next int64
	if e.Direction == model.DirectionCredit {
		next = prev + e.AmountToman
	} else {
		next = prev - e.AmountToman
		if next < 0 {
			return domain.ErrNegativeBalance
		}
	}
	e.PrevBalance = prev
	e.NewBalance = next
	m.balance[e.AccountRef] = next
	cp := *e
	m.Entries = append(m.Entries, &cp)
	return nil
}

func (m *MockLedgerRepo) FindByIntent(ctx context.Context, qx any, intentID string, direction model.EntryDirection) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.IntentID == intentID && e.Direction == direction {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockLedgerRepo) ListByAccount(ctx context.Context, qx any, accountRef string, limit int) ([]*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LedgerEntry
	for _, e := range m.Entries {
		if e.AccountRef == accountRef {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockLedgerRepo) Balance(ctx context.Context, qx any, accountRef string) (*model.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &model.WalletBalance{AccountRef: accountRef, Balance: m.balance[accountRef], UpdatedAt: now()}, nil
}

// ---- Mock TransactionManager ----

// MockTxManager just runs the function; mocks above ignore qx anyway.
type MockTxManager struct {
	mu    sync.Mutex
	Calls int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	return fn(ctx, struct{}{})
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockGateway struct {
	mu       sync.Mutex
	GateName model.GatewayName

	RequestPaymentFunc     func(ctx context.Context, req adapter.PaymentRequest) (*adapter.PaymentSession, error)
	VerifyTransactionFunc  func(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error)
	SettleTransactionFunc  func(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error)
	ReverseTransactionFunc func(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error)
	EligibleFunc           func(ctx context.Context, amountToman int64) (bool, error)

	Calls struct {
		Request  int
		Verify   int
		Settle   int
		Reverse  int
		Eligible int
	}
}

var (
	_ adapter.PaymentGateway     = (*MockGateway)(nil)
	_ adapter.InstallmentGateway = (*MockGateway)(nil)
)

func (m *MockGateway) Name() model.GatewayName {
	if m.GateName == "" {
		return model.GatewayMellat
	}
	return m.GateName
}

func (m *MockGateway) RequestPayment(ctx context.Context, req adapter.PaymentRequest) (*adapter.PaymentSession, error) {
	m.mu.Lock()
	m.Calls.Request++
	m.mu.Unlock()
	if m.RequestPaymentFunc != nil {
		return m.RequestPaymentFunc(ctx, req)
	}
	return &adapter.PaymentSession{GatewayRef: "ref-1", RedirectURL: "http://gw.test/pay/ref-1"}, nil
}

func (m *MockGateway) VerifyTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	m.mu.Lock()
	m.Calls.Verify++
	m.mu.Unlock()
	if m.VerifyTransactionFunc != nil {
		return m.VerifyTransactionFunc(ctx, orderRef, gatewayTxRef)
	}
	return adapter.Outcome{Success: true, Code: codes.Success}, nil
}

func (m *MockGateway) SettleTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	m.mu.Lock()
	m.Calls.Settle++
	m.mu.Unlock()
	if m.SettleTransactionFunc != nil {
		return m.SettleTransactionFunc(ctx, orderRef, gatewayTxRef)
	}
	return adapter.Outcome{Success: true, Code: codes.Success}, nil
}

func (m *MockGateway) Eligible(ctx context.Context, amountToman int64) (bool, error) {
	m.mu.Lock()
	m.Calls.Eligible++
	m.mu.Unlock()
	if m.EligibleFunc != nil {
		return m.EligibleFunc(ctx, amountToman)
	}
	return true, nil
}

func (m *MockGateway) ReverseTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	m.mu.Lock()
	m.Calls.Reverse++
	m.mu.Unlock()
	if m.ReverseTransactionFunc != nil {
		return m.ReverseTransactionFunc(ctx, orderRef, gatewayTxRef)
	}
	return adapter.Outcome{Success: true, Code: codes.Success}, nil
}

// ---- Mock Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	Locks int

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return "", domain.ErrLockBusy
	}
	m.held[key] = true
	m.Locks++
	return "token", nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}
