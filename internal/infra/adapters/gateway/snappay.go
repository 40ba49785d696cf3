// File: internal/infra/adapters/gateway/snappay.go
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain/codes"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/adapter"
	"storefront-payments/internal/infra/metrics"
)

var (
	_ adapter.PaymentGateway     = (*SnappPayGateway)(nil)
	_ adapter.InstallmentGateway = (*SnappPayGateway)(nil)
)

const snappayRialFactor = 10

// tokenCache holds the OAuth access token between calls. expiresAt carries a
// safety margin so a token is never used in its final seconds.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// SnappPayGateway implements adapter.PaymentGateway against the SnappPay
// installment API: OAuth password grant, then bearer-authenticated JSON calls.
type SnappPayGateway struct {
	cfg    config.SnappPayConfig
	client Doer
	retry  RetryPolicy
	log    *zerolog.Logger
	cache  tokenCache
	now    func() time.Time
}

func NewSnappPayGateway(cfg config.SnappPayConfig, client Doer, retry RetryPolicy, log *zerolog.Logger) (*SnappPayGateway, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("snappay client credentials empty")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("snappay base url empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 25 * time.Second}
	}
	return &SnappPayGateway{cfg: cfg, client: client, retry: retry, log: log, now: time.Now}, nil
}

func (g *SnappPayGateway) Name() model.GatewayName { return model.GatewaySnappay }

// accessToken returns the cached token or fetches a fresh one via the password
// grant. Tokens are reused until 30 seconds before expiry.
func (g *SnappPayGateway) accessToken(ctx context.Context) (string, error) {
	g.cache.mu.Lock()
	defer g.cache.mu.Unlock()
	if g.cache.token != "" && g.cache.expiresAt.After(g.now()) {
		return g.cache.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("scope", "online-merchant")
	form.Set("username", g.cfg.Username)
	form.Set("password", g.cfg.Password)
	basic := base64.StdEncoding.EncodeToString([]byte(g.cfg.ClientID + ":" + g.cfg.ClientSecret))
	encoded := form.Encode()

	resp, err := doWithRetry(ctx, g.client, g.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.cfg.BaseURL+"/api/online/v1/oauth/token", strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Basic "+basic)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "oauth", Code: codes.TransientNetwork, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "oauth", Code: codes.InvalidCredentials,
			Err: fmt.Errorf("oauth http %d", resp.StatusCode)}
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "oauth", Code: codes.ProtocolError, Err: err}
	}
	if out.AccessToken == "" {
		return "", &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "oauth", Code: codes.InvalidCredentials,
			Err: errors.New("empty access token")}
	}
	g.cache.token = out.AccessToken
	g.cache.expiresAt = g.now().Add(time.Duration(out.ExpiresIn-30) * time.Second)
	return out.AccessToken, nil
}

// snappayEnvelope is the common response shape: successful plus errorData on
// failure.
type snappayEnvelope struct {
	Successful bool            `json:"successful"`
	Response   json.RawMessage `json:"response"`
	ErrorData  struct {
		ErrorCode int    `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errorData"`
}

func (g *SnappPayGateway) send(ctx context.Context, op, method, path string, payload any) (env *snappayEnvelope, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ObserveGatewayCall(string(model.GatewaySnappay), op, result, time.Since(start).Seconds())
	}()

	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: op, Code: codes.ProtocolError, Err: err}
		}
	}
	resp, err := doWithRetry(ctx, g.client, g.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return nil, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: op, Code: codes.TransientNetwork, Err: err}
	}
	defer resp.Body.Close()
	var out snappayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: op, Code: codes.ProtocolError, Err: err}
	}
	if !out.Successful && out.ErrorData.ErrorCode == 0 && resp.StatusCode >= 400 {
		out.ErrorData.ErrorCode = resp.StatusCode
	}
	return &out, nil
}

// Eligible asks whether SnappPay offers installments for the amount. Used by
// the storefront before presenting the option.
func (g *SnappPayGateway) Eligible(ctx context.Context, amountToman int64) (bool, error) {
	amount := strconv.FormatInt(amountToman*snappayRialFactor, 10)
	out, err := g.send(ctx, "eligible", http.MethodGet, "/api/online/offer/v1/eligible?amount="+amount, nil)
	if err != nil {
		return false, err
	}
	if !out.Successful {
		code, _ := codes.SnappPay(out.ErrorData.ErrorCode, out.ErrorData.Message)
		return false, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "eligible", Code: code,
			Err: fmt.Errorf("error code %d: %s", out.ErrorData.ErrorCode, out.ErrorData.Message)}
	}
	var resp struct {
		Eligible bool `json:"eligible"`
	}
	if err := json.Unmarshal(out.Response, &resp); err != nil {
		return false, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "eligible", Code: codes.ProtocolError, Err: err}
	}
	return resp.Eligible, nil
}

type snappayCartItem struct {
	Amount         int64  `json:"amount"`
	Category       string `json:"category"`
	Count          int    `json:"count"`
	ID             int    `json:"id"`
	Name           string `json:"name"`
	CommissionType int    `json:"commissionType"`
}

type snappayCart struct {
	CartID             int               `json:"cartId"`
	CartItems          []snappayCartItem `json:"cartItems"`
	IsShipmentIncluded bool              `json:"isShipmentIncluded"`
	IsTaxIncluded      bool              `json:"isTaxIncluded"`
	ShippingAmount     int64             `json:"shippingAmount"`
	TaxAmount          int64             `json:"taxAmount"`
	TotalAmount        int64             `json:"totalAmount"`
}

// RequestPayment obtains a paymentToken and the hosted page URL. PayerRef must
// be an Iranian mobile number; the API insists on the +98 form.
func (g *SnappPayGateway) RequestPayment(ctx context.Context, req adapter.PaymentRequest) (*adapter.PaymentSession, error) {
	requestID := uuid.NewString()
	amountRial := req.AmountToman * snappayRialFactor
	payload := map[string]any{
		"amount":               amountRial,
		"discountAmount":       0,
		"externalSourceAmount": 0,
		"mobile":               normalizeMobile(req.PayerRef),
		"paymentMethodTypeDto": "INSTALLMENT",
		"returnURL":            req.CallbackURL,
		"transactionId":        req.OrderRef,
		"cartList": []snappayCart{{
			CartID: 1,
			CartItems: []snappayCartItem{{
				Amount:         amountRial,
				Category:       "General",
				Count:          1,
				ID:             1,
				Name:           req.Description,
				CommissionType: 1,
			}},
			TotalAmount: amountRial,
		}},
	}
	g.log.Info().Str("request_id", requestID).Str("order_ref", req.OrderRef).
		Int64("amount_toman", req.AmountToman).Msg("snappay token request")

	out, err := g.send(ctx, "token", http.MethodPost, "/api/online/payment/v1/token", payload)
	if err != nil {
		return nil, err
	}
	if !out.Successful {
		code, desc := codes.SnappPay(out.ErrorData.ErrorCode, out.ErrorData.Message)
		g.log.Warn().Str("request_id", requestID).Int("error_code", out.ErrorData.ErrorCode).
			Str("reason", desc).Msg("snappay token rejected")
		return nil, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "token", Code: code,
			Err: fmt.Errorf("error code %d: %s", out.ErrorData.ErrorCode, out.ErrorData.Message)}
	}
	var resp struct {
		PaymentToken   string `json:"paymentToken"`
		PaymentPageURL string `json:"paymentPageUrl"`
	}
	if err := json.Unmarshal(out.Response, &resp); err != nil {
		return nil, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "token", Code: codes.ProtocolError, Err: err}
	}
	if resp.PaymentToken == "" || resp.PaymentPageURL == "" {
		return nil, &adapter.GatewayError{Gateway: model.GatewaySnappay, Op: "token", Code: codes.ProtocolError,
			Err: errors.New("missing payment token or page url")}
	}
	return &adapter.PaymentSession{GatewayRef: resp.PaymentToken, RedirectURL: resp.PaymentPageURL}, nil
}

func (g *SnappPayGateway) operate(ctx context.Context, op, path, gatewayTxRef string, settledOK bool) (adapter.Outcome, error) {
	requestID := uuid.NewString()
	out, err := g.send(ctx, op, http.MethodPost, path, map[string]string{"paymentToken": gatewayTxRef})
	if err != nil {
		return adapter.Outcome{}, err
	}
	if out.Successful {
		g.log.Info().Str("request_id", requestID).Str("op", op).Bool("success", true).Msg("snappay response")
		return adapter.Outcome{Success: true, Code: codes.Success, Message: "operation succeeded"}, nil
	}
	code, desc := codes.SnappPay(out.ErrorData.ErrorCode, out.ErrorData.Message)
	success := settledOK && code == codes.AlreadySettled
	g.log.Info().Str("request_id", requestID).Str("op", op).Int("error_code", out.ErrorData.ErrorCode).
		Bool("success", success).Msg("snappay response")
	return adapter.Outcome{
		Success:      success,
		Code:         code,
		ProviderCode: strconv.Itoa(out.ErrorData.ErrorCode),
		Message:      desc,
	}, nil
}

func (g *SnappPayGateway) VerifyTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return g.operate(ctx, "verify", "/api/online/payment/v1/verify", gatewayTxRef, false)
}

// SettleTransaction captures a verified purchase. An "already settled" answer
// counts as success so a retried settle converges.
func (g *SnappPayGateway) SettleTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return g.operate(ctx, "settle", "/api/online/payment/v1/settle", gatewayTxRef, true)
}

// ReverseTransaction cancels a settled purchase.
func (g *SnappPayGateway) ReverseTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return g.operate(ctx, "reverse", "/api/online/payment/v1/cancel", gatewayTxRef, false)
}

// normalizeMobile coerces local forms to the +98XXXXXXXXXX the API requires.
func normalizeMobile(input string) string {
	var digits strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	m := digits.String()
	switch {
	case strings.HasPrefix(m, "0098") && len(m) == 14:
		m = "98" + m[4:]
	case strings.HasPrefix(m, "0") && len(m) == 11:
		m = "98" + m[1:]
	case len(m) == 10 && !strings.HasPrefix(m, "98"):
		m = "98" + m
	}
	if m == "" {
		return ""
	}
	return "+" + m
}
