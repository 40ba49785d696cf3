package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"storefront-payments/internal/config"
	"storefront-payments/internal/infra/api"
	"storefront-payments/internal/infra/redis"
	"storefront-payments/internal/usecase"
)

// Server wires the payment HTTP surface: the public initiate and callback
// routes, and the JWT-guarded ops routes for reversal and wallet inspection.
type Server struct {
	intentUC   usecase.IntentUseCase
	callbackUC usecase.CallbackUseCase
	ledgerUC   usecase.LedgerUseCase

	auth            *AuthManager
	opsKey          string
	limiter         *redis.RateLimiter
	frontendBaseURL string

	srv *http.Server
	log *zerolog.Logger
}

func NewServer(
	intentUC usecase.IntentUseCase,
	callbackUC usecase.CallbackUseCase,
	ledgerUC usecase.LedgerUseCase,
	opsKey string,
	auth *AuthManager,
	limiter *redis.RateLimiter,
	frontendBaseURL string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		intentUC:        intentUC,
		callbackUC:      callbackUC,
		ledgerUC:        ledgerUC,
		auth:            auth,
		opsKey:          opsKey,
		limiter:         limiter,
		frontendBaseURL: frontendBaseURL,
		log:             logger,
	}
}

// Router builds the chi mux with all routes registered.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(api.TraceID(s.log), api.RequestLog(s.log), api.Recover(s.log), api.Timeout(30*time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/payments", s.handleInitiate)
	// Providers differ on the callback verb; Saman POSTs a form, Mellat POSTs,
	// SnappPay redirects with a GET.
	r.Get("/api/v1/payments/callback/{gateway}", s.handleCallback)
	r.Post("/api/v1/payments/callback/{gateway}", s.handleCallback)

	r.Post("/api/v1/ops/auth/login", s.handleLogin)
	r.Post("/api/v1/ops/auth/logout", s.handleLogout)

	r.Group(func(pr chi.Router) {
		pr.Use(s.authMiddleware)
		pr.Get("/api/v1/payments/{orderRef}", s.handleGetIntent)
		pr.Post("/api/v1/payments/{orderRef}/reverse", s.handleReverse)
		pr.Post("/api/v1/payments/{orderRef}/cancel", s.handleCancel)
		pr.Get("/api/v1/wallets/{accountRef}/balance", s.handleBalance)
		pr.Get("/api/v1/wallets/{accountRef}/entries", s.handleEntries)
	})

	return r
}

func (s *Server) Start(cfg config.WebConfig) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.Router(),
	}
	s.log.Info().Int("port", cfg.Port).Msg("http server listening")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authMiddleware guards the ops routes with a session JWT.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			s.log.Error().Msg("ops auth is not configured")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
