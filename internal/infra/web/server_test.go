//go:build !integration

package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/repository"
	"storefront-payments/internal/usecase"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// ---- minimal mock use cases used by the routed handlers ----

type mockIntentUC struct {
	InitiateFunc func(ctx context.Context, orderRef, payerRef string, gateway model.GatewayName, amountToman int64, description string) (*model.PaymentIntent, string, error)
	ReverseFunc  func(ctx context.Context, orderRef string) (*model.PaymentIntent, error)
	CancelFunc   func(ctx context.Context, orderRef string) (*model.PaymentIntent, error)
	GetFunc      func(ctx context.Context, orderRef string) (*model.PaymentIntent, error)
}

func (m *mockIntentUC) Initiate(ctx context.Context, orderRef, payerRef string, gateway model.GatewayName, amountToman int64, description string) (*model.PaymentIntent, string, error) {
	return m.InitiateFunc(ctx, orderRef, payerRef, gateway, amountToman, description)
}

func (m *mockIntentUC) Reverse(ctx context.Context, orderRef string) (*model.PaymentIntent, error) {
	return m.ReverseFunc(ctx, orderRef)
}

func (m *mockIntentUC) Cancel(ctx context.Context, orderRef string) (*model.PaymentIntent, error) {
	return m.CancelFunc(ctx, orderRef)
}

func (m *mockIntentUC) Get(ctx context.Context, orderRef string) (*model.PaymentIntent, error) {
	return m.GetFunc(ctx, orderRef)
}

type mockCallbackUC struct {
	ProcessFunc func(ctx context.Context, cb usecase.Callback) (*usecase.CallbackResult, error)
	Last        usecase.Callback
}

func (m *mockCallbackUC) Process(ctx context.Context, cb usecase.Callback) (*usecase.CallbackResult, error) {
	m.Last = cb
	return m.ProcessFunc(ctx, cb)
}

type mockLedgerUC struct {
	BalanceFunc func(ctx context.Context, accountRef string) (*model.WalletBalance, error)
	HistoryFunc func(ctx context.Context, accountRef string, limit int) ([]*model.LedgerEntry, error)
}

func (m *mockLedgerUC) Credit(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, cause string) (*model.LedgerEntry, error) {
	return nil, nil
}

func (m *mockLedgerUC) Debit(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, cause string) (*model.LedgerEntry, error) {
	return nil, nil
}

func (m *mockLedgerUC) Balance(ctx context.Context, accountRef string) (*model.WalletBalance, error) {
	return m.BalanceFunc(ctx, accountRef)
}

func (m *mockLedgerUC) History(ctx context.Context, accountRef string, limit int) ([]*model.LedgerEntry, error) {
	return m.HistoryFunc(ctx, accountRef, limit)
}

func TestAuthMiddleware(t *testing.T) {
	// A simple handler that we expect to be called on successful authentication.
	dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	logger := newTestLogger()
	auth := NewAuthManager("test-ops-jwt-secret-please-change", false, "", time.Minute)

	server := NewServer(nil, nil, nil, "test-ops-key", auth, nil, "https://shop.example", logger)
	protected := server.authMiddleware(dummyHandler)

	t.Run("no credentials -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/u-1/balance", nil)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("bearer but invalid jwt -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/u-1/balance", nil)
		req.Header.Set("Authorization", "Bearer invalid.jwt.token")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("valid bearer jwt -> 200", func(t *testing.T) {
		dummy := httptest.NewRecorder()
		token, err := auth.Mint(dummy)
		if err != nil || token == "" {
			t.Fatalf("failed to mint test token: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/u-1/balance", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("valid session cookie -> 200", func(t *testing.T) {
		dummy := httptest.NewRecorder()
		token, err := auth.Mint(dummy)
		if err != nil || token == "" {
			t.Fatalf("failed to mint test token: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/u-1/balance", nil)
		req.AddCookie(&http.Cookie{Name: "ops_session", Value: token})
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("no auth manager configured -> 401", func(t *testing.T) {
		serverNoAuth := NewServer(nil, nil, nil, "test-ops-key", nil, nil, "https://shop.example", logger)
		protectedNoAuth := serverNoAuth.authMiddleware(dummyHandler)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/u-1/balance", nil)
		rr := httptest.NewRecorder()
		protectedNoAuth.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})
}

func TestOpsLoginLogoutFlow(t *testing.T) {
	logger := newTestLogger()
	auth := NewAuthManager("test-ops-jwt-secret-please-change", false, "", time.Minute)

	ledgerUC := &mockLedgerUC{
		BalanceFunc: func(ctx context.Context, accountRef string) (*model.WalletBalance, error) {
			return &model.WalletBalance{AccountRef: accountRef, Balance: 12000}, nil
		},
	}

	s := NewServer(nil, nil, ledgerUC, "test-ops-key", auth, nil, "https://shop.example", logger)
	router := s.Router()

	var sessionCookie *http.Cookie

	t.Run("login with wrong key -> 401", func(t *testing.T) {
		body := bytes.NewBufferString(`{"key":"wrong"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/auth/login", body)
		req.Header.Set("content-type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("login with correct key -> 204 + cookie set", func(t *testing.T) {
		body := bytes.NewBufferString(`{"key":"test-ops-key"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/auth/login", body)
		req.Header.Set("content-type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
		for _, c := range rr.Result().Cookies() {
			if c.Name == "ops_session" {
				sessionCookie = c
				break
			}
		}
		if sessionCookie == nil || sessionCookie.Value == "" {
			t.Fatal("expected ops_session cookie")
		}
	})

	t.Run("protected route with cookie -> 200", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/u-1/balance", nil)
		req.AddCookie(sessionCookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("logout -> 204", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/auth/logout", nil)
		req.AddCookie(sessionCookie) // optional
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
	})

	t.Run("after logout without cookie -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/u-1/balance", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})
}
