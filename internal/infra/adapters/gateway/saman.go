// File: internal/infra/adapters/gateway/saman.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain/codes"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/adapter"
	"storefront-payments/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*SamanGateway)(nil)

const samanRialFactor = 10

// SamanGateway implements adapter.PaymentGateway against Saman Kish (SEP):
// a JSON token request, a hosted payment page, and JSON verify/reverse calls.
// SEP captures on verify, so SettleTransaction is a local no-op.
type SamanGateway struct {
	cfg      config.SamanConfig
	terminal int
	client   Doer
	retry    RetryPolicy
	log      *zerolog.Logger
}

func NewSamanGateway(cfg config.SamanConfig, client Doer, retry RetryPolicy, log *zerolog.Logger) (*SamanGateway, error) {
	terminal, err := strconv.Atoi(cfg.TerminalID)
	if err != nil {
		return nil, fmt.Errorf("saman terminal id must be numeric: %w", err)
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("saman base url empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &SamanGateway{cfg: cfg, terminal: terminal, client: client, retry: retry, log: log}, nil
}

func (s *SamanGateway) Name() model.GatewayName { return model.GatewaySaman }

func (s *SamanGateway) postJSON(ctx context.Context, op, endpoint string, payload any, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ObserveGatewayCall(string(model.GatewaySaman), op, result, time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return &adapter.GatewayError{Gateway: model.GatewaySaman, Op: op, Code: codes.ProtocolError, Err: err}
	}
	resp, err := doWithRetry(ctx, s.client, s.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return &adapter.GatewayError{Gateway: model.GatewaySaman, Op: op, Code: codes.TransientNetwork, Err: err}
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &adapter.GatewayError{Gateway: model.GatewaySaman, Op: op, Code: codes.ProtocolError, Err: err}
	}
	return nil
}

// RequestPayment asks SEP for a payment token; the payer is redirected to the
// SendToken page carrying it.
func (s *SamanGateway) RequestPayment(ctx context.Context, req adapter.PaymentRequest) (*adapter.PaymentSession, error) {
	requestID := uuid.NewString()
	payload := map[string]any{
		"Action":           "Token",
		"TerminalId":       s.cfg.TerminalID,
		"Amount":           req.AmountToman * samanRialFactor,
		"ResNum":           req.OrderRef,
		"RedirectUrl":      req.CallbackURL,
		"TokenExpiryInMin": 20,
	}
	s.log.Info().Str("request_id", requestID).Str("order_ref", req.OrderRef).
		Int64("amount_toman", req.AmountToman).Msg("saman token request")

	var out struct {
		Status    int    `json:"status"`
		Token     string `json:"token"`
		ErrorCode string `json:"errorCode"`
		ErrorDesc string `json:"errorDesc"`
	}
	if err := s.postJSON(ctx, "token", s.cfg.BaseURL, payload, &out); err != nil {
		return nil, err
	}
	if out.Status != 1 || out.Token == "" {
		s.log.Warn().Str("request_id", requestID).Int("status", out.Status).
			Str("error_code", out.ErrorCode).Msg("saman token rejected")
		return nil, &adapter.GatewayError{Gateway: model.GatewaySaman, Op: "token", Code: codes.Unknown,
			Err: fmt.Errorf("status %d: %s", out.Status, out.ErrorDesc)}
	}
	return &adapter.PaymentSession{
		GatewayRef:  out.Token,
		RedirectURL: s.cfg.GatewayURL + "?token=" + url.QueryEscape(out.Token),
	}, nil
}

type samanOpResponse struct {
	Success           bool   `json:"Success"`
	ResultCode        int    `json:"ResultCode"`
	ResultDescription string `json:"ResultDescription"`
}

func (s *SamanGateway) operate(ctx context.Context, op, endpoint, gatewayTxRef string, verifiedOK bool) (adapter.Outcome, error) {
	requestID := uuid.NewString()
	payload := map[string]any{
		"RefNum":         gatewayTxRef,
		"TerminalNumber": s.terminal,
	}
	var out samanOpResponse
	if err := s.postJSON(ctx, op, endpoint, payload, &out); err != nil {
		return adapter.Outcome{}, err
	}
	code, desc := codes.SamanResult(out.ResultCode)
	if out.ResultDescription != "" {
		desc = out.ResultDescription
	}
	success := out.Success || code == codes.Success || (verifiedOK && code == codes.AlreadyVerified)
	s.log.Info().Str("request_id", requestID).Str("op", op).Int("result_code", out.ResultCode).
		Bool("success", success).Msg("saman response")
	return adapter.Outcome{
		Success:      success,
		Code:         code,
		ProviderCode: strconv.Itoa(out.ResultCode),
		Message:      desc,
	}, nil
}

// VerifyTransaction confirms the RefNum delivered on callback. ResultCode 2
// (duplicate verify) counts as success so a redelivered callback converges.
func (s *SamanGateway) VerifyTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return s.operate(ctx, "verify", s.cfg.BaseURL+"/verifyTxnRandomSessionkey/ipg/VerifyTransaction", gatewayTxRef, true)
}

// SettleTransaction is a no-op: SEP captures as part of verify.
func (s *SamanGateway) SettleTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return adapter.Outcome{Success: true, Code: codes.Success, Message: "settled at verify"}, nil
}

func (s *SamanGateway) ReverseTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	out, err := s.operate(ctx, "reverse", s.cfg.BaseURL+"/verifyTxnRandomSessionkey/ipg/ReverseTransaction", gatewayTxRef, false)
	if err != nil {
		return out, err
	}
	// Code 5 means the transaction was already reversed; converge.
	if out.Code == codes.AlreadySettled {
		out.Success = true
	}
	return out, nil
}
