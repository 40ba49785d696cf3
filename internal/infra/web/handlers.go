package web

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/adapter"
	"storefront-payments/internal/infra/redis"
	"storefront-payments/internal/usecase"
)

type initiateRequest struct {
	OrderRef    string `json:"order_ref"`
	PayerRef    string `json:"payer_ref"`
	Gateway     string `json:"gateway"`
	AmountToman int64  `json:"amount_toman"`
	Description string `json:"description"`
}

type initiateResponse struct {
	IntentID    string `json:"intent_id"`
	OrderRef    string `json:"order_ref"`
	Gateway     string `json:"gateway"`
	State       string `json:"state"`
	RedirectURL string `json:"redirect_url"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	gateway, ok := model.ParseGateway(req.Gateway)
	if !ok {
		http.Error(w, "Unknown gateway", http.StatusUnprocessableEntity)
		return
	}

	intent, redirectURL, err := s.intentUC.Initiate(ctx, req.OrderRef, req.PayerRef, gateway, req.AmountToman, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownGateway), errors.Is(err, domain.ErrNotEligible):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, domain.ErrAlreadyExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			var gwErr *adapter.GatewayError
			if errors.As(err, &gwErr) {
				http.Error(w, "Gateway refused the payment request", http.StatusBadGateway)
				return
			}
			http.Error(w, "Failed to initiate payment", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(initiateResponse{
		IntentID:    intent.ID,
		OrderRef:    intent.OrderRef,
		Gateway:     string(intent.Gateway),
		State:       string(intent.State),
		RedirectURL: redirectURL,
	})
}

// extractCallback normalizes each provider's return-trip parameters into the
// shared callback shape. get reads a merged form/query value.
func extractCallback(gateway model.GatewayName, get func(string) string) usecase.Callback {
	cb := usecase.Callback{Gateway: gateway}
	switch gateway {
	case model.GatewayMellat:
		cb.OrderRef = get("SaleOrderId")
		cb.GatewayTxRef = get("SaleReferenceId")
		cb.ProviderState = get("ResCode")
	case model.GatewaySaman:
		cb.OrderRef = get("ResNum")
		cb.GatewayTxRef = get("RefNum")
		cb.ProviderState = get("State")
		if cb.ProviderState == "" {
			cb.ProviderState = get("Status")
		}
	case model.GatewaySnappay:
		cb.OrderRef = get("transactionId")
		cb.GatewayTxRef = get("paymentToken")
		cb.ProviderState = get("state")
	}
	return cb
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gateway, ok := model.ParseGateway(chi.URLParam(r, "gateway"))
	if !ok {
		http.Error(w, "Unknown gateway", http.StatusNotFound)
		return
	}

	if s.limiter != nil {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		allowed, err := s.limiter.Allow(ctx, redis.CallbackKey(string(gateway), host), 60, time.Minute)
		if err == nil && !allowed {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	cb := extractCallback(gateway, r.Form.Get)

	result, err := s.callbackUC.Process(ctx, cb)
	if err != nil && result == nil {
		s.log.Error().Err(err).Str("gateway", string(gateway)).Msg("callback processing failed")
		s.redirectToFrontend(w, r, cb.OrderRef, usecase.CallbackStatusFailure, "internal_error")
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("gateway", string(gateway)).Str("order_ref", cb.OrderRef).
			Str("reason", result.Reason).Msg("callback round did not complete")
	}
	s.redirectToFrontend(w, r, cb.OrderRef, result.Status, result.Reason)
}

// redirectToFrontend sends the payer's browser back to the storefront with the
// outcome in the query string.
func (s *Server) redirectToFrontend(w http.ResponseWriter, r *http.Request, orderRef, status, reason string) {
	q := url.Values{}
	q.Set("status", status)
	if orderRef != "" {
		q.Set("order", orderRef)
	}
	if reason != "" {
		q.Set("reason", reason)
	}
	http.Redirect(w, r, s.frontendBaseURL+"/wallet?"+q.Encode(), http.StatusSeeOther)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	intent, err := s.intentUC.Get(ctx, chi.URLParam(r, "orderRef"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Failed to get payment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(intent)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	intent, err := s.intentUC.Reverse(ctx, chi.URLParam(r, "orderRef"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, domain.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, domain.ErrOperationFailed):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			var gwErr *adapter.GatewayError
			if errors.As(err, &gwErr) {
				http.Error(w, "Gateway refused the reversal", http.StatusBadGateway)
				return
			}
			http.Error(w, "Failed to reverse payment", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(intent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	intent, err := s.intentUC.Cancel(ctx, chi.URLParam(r, "orderRef"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, domain.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "Failed to cancel payment", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(intent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	balance, err := s.ledgerUC.Balance(ctx, chi.URLParam(r, "accountRef"))
	if err != nil {
		http.Error(w, "Failed to get balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(balance)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50 // Default page size
	}

	entries, err := s.ledgerUC.History(ctx, chi.URLParam(r, "accountRef"), limit)
	if err != nil {
		http.Error(w, "Failed to list entries", http.StatusInternalServerError)
		return
	}

	response := struct {
		Data  []*model.LedgerEntry `json:"data"`
		Limit int                  `json:"limit"`
	}{
		Data:  entries,
		Limit: limit,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if s.opsKey == "" || req.Key != s.opsKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if s.auth == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := s.auth.Mint(w); err != nil {
		http.Error(w, "Failed to mint session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		s.auth.Clear(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
