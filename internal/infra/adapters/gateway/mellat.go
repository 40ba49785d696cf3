// File: internal/infra/adapters/gateway/mellat.go
package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain/codes"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/adapter"
	"storefront-payments/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*MellatGateway)(nil)

// Behpardakht quotes amounts in Rial; the engine keeps Toman.
const mellatRialFactor = 10

// MellatGateway implements adapter.PaymentGateway over Behpardakht's SOAP
// channel (bpPayRequest / bpVerifyRequest / bpSettleRequest / bpReversalRequest).
type MellatGateway struct {
	cfg    config.MellatConfig
	client Doer
	retry  RetryPolicy
	log    *zerolog.Logger
	now    func() time.Time
}

func NewMellatGateway(cfg config.MellatConfig, client Doer, retry RetryPolicy, log *zerolog.Logger) (*MellatGateway, error) {
	if cfg.TerminalID == "" {
		return nil, errors.New("mellat terminal id empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid mellat base url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MellatGateway{cfg: cfg, client: client, retry: retry, log: log, now: time.Now}, nil
}

func (m *MellatGateway) Name() model.GatewayName { return model.GatewayMellat }

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	NS      string   `xml:"xmlns:soap,attr"`
	Body    soapBody `xml:"soap:Body"`
}

type soapBody struct {
	Pay      *bpPayRequest `xml:",omitempty"`
	Verify   *bpOpRequest  `xml:",omitempty"`
	Settle   *bpOpRequest  `xml:",omitempty"`
	Reversal *bpOpRequest  `xml:",omitempty"`
}

type bpPayRequest struct {
	XMLName        xml.Name `xml:"bpPayRequest"`
	NS             string   `xml:"xmlns,attr"`
	TerminalID     string   `xml:"terminalId"`
	UserName       string   `xml:"userName"`
	UserPassword   string   `xml:"userPassword"`
	OrderID        string   `xml:"orderId"`
	Amount         int64    `xml:"amount"`
	LocalDate      string   `xml:"localDate"`
	LocalTime      string   `xml:"localTime"`
	AdditionalData string   `xml:"additionalData"`
	CallBackURL    string   `xml:"callBackUrl"`
	PayerID        string   `xml:"payerId"`
}

// bpOpRequest covers verify, settle and reversal, which share a shape; XMLName
// is set per call.
type bpOpRequest struct {
	XMLName         xml.Name
	NS              string `xml:"xmlns,attr"`
	TerminalID      string `xml:"terminalId"`
	UserName        string `xml:"userName"`
	UserPassword    string `xml:"userPassword"`
	OrderID         string `xml:"orderId"`
	SaleOrderID     string `xml:"saleOrderId"`
	SaleReferenceID string `xml:"saleReferenceId"`
}

// soapResult matches any bp*Response body; namespaces are ignored on decode.
type soapResult struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Inner struct {
			Return string `xml:"return"`
		} `xml:",any"`
	} `xml:"Body"`
}

const bpNS = "http://interfaces.core.sw.bps.com/"

func (m *MellatGateway) call(ctx context.Context, op string, body soapBody) (ret string, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ObserveGatewayCall(string(model.GatewayMellat), op, result, time.Since(start).Seconds())
	}()

	envelope := soapEnvelope{NS: "http://schemas.xmlsoap.org/soap/envelope/", Body: body}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return "", &adapter.GatewayError{Gateway: model.GatewayMellat, Op: op, Code: codes.ProtocolError, Err: err}
	}
	payload = append([]byte(xml.Header), payload...)

	resp, err := doWithRetry(ctx, m.client, m.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", "")
		return req, nil
	})
	if err != nil {
		return "", &adapter.GatewayError{Gateway: model.GatewayMellat, Op: op, Code: codes.TransientNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &adapter.GatewayError{Gateway: model.GatewayMellat, Op: op, Code: codes.TransientNetwork, Err: err}
	}
	var out soapResult
	if err := xml.Unmarshal(raw, &out); err != nil {
		return "", &adapter.GatewayError{Gateway: model.GatewayMellat, Op: op, Code: codes.ProtocolError, Err: err}
	}
	ret = strings.TrimSpace(out.Body.Inner.Return)
	if ret == "" {
		return "", &adapter.GatewayError{Gateway: model.GatewayMellat, Op: op, Code: codes.ProtocolError,
			Err: errors.New("empty return element in soap response")}
	}
	return ret, nil
}

// RequestPayment issues bpPayRequest. The provider answers "0,RefId" on
// success or a bare error code.
func (m *MellatGateway) RequestPayment(ctx context.Context, req adapter.PaymentRequest) (*adapter.PaymentSession, error) {
	requestID := uuid.NewString()
	now := m.now()
	body := soapBody{Pay: &bpPayRequest{
		NS:             bpNS,
		TerminalID:     m.cfg.TerminalID,
		UserName:       m.cfg.Username,
		UserPassword:   m.cfg.Password,
		OrderID:        req.OrderRef,
		Amount:         req.AmountToman * mellatRialFactor,
		LocalDate:      now.Format("20060102"),
		LocalTime:      now.Format("150405"),
		AdditionalData: req.Description,
		CallBackURL:    req.CallbackURL,
		PayerID:        req.PayerRef,
	}}

	m.log.Info().Str("request_id", requestID).Str("order_ref", req.OrderRef).
		Int64("amount_toman", req.AmountToman).Msg("mellat pay request")

	ret, err := m.call(ctx, "pay", body)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(ret, ",", 2)
	resCode, convErr := strconv.Atoi(parts[0])
	if convErr != nil {
		return nil, &adapter.GatewayError{Gateway: model.GatewayMellat, Op: "pay", Code: codes.ProtocolError,
			Err: fmt.Errorf("unparseable return %q", ret)}
	}
	if resCode != 0 || len(parts) != 2 || parts[1] == "" {
		code, desc := codes.Mellat(resCode)
		m.log.Warn().Str("request_id", requestID).Int("res_code", resCode).Str("reason", desc).Msg("mellat pay rejected")
		return nil, &adapter.GatewayError{Gateway: model.GatewayMellat, Op: "pay", Code: code,
			Err: fmt.Errorf("res code %d: %s", resCode, desc)}
	}
	refID := parts[1]
	return &adapter.PaymentSession{
		GatewayRef:  refID,
		RedirectURL: m.cfg.GatewayURL + "?RefId=" + url.QueryEscape(refID),
	}, nil
}

func (m *MellatGateway) operate(ctx context.Context, op, element, orderRef, gatewayTxRef string, settledOK bool) (adapter.Outcome, error) {
	requestID := uuid.NewString()
	reqBody := &bpOpRequest{
		XMLName:         xml.Name{Local: element},
		NS:              bpNS,
		TerminalID:      m.cfg.TerminalID,
		UserName:        m.cfg.Username,
		UserPassword:    m.cfg.Password,
		OrderID:         orderRef,
		SaleOrderID:     orderRef,
		SaleReferenceID: gatewayTxRef,
	}
	var body soapBody
	switch element {
	case "bpVerifyRequest":
		body.Verify = reqBody
	case "bpSettleRequest":
		body.Settle = reqBody
	default:
		body.Reversal = reqBody
	}

	ret, err := m.call(ctx, op, body)
	if err != nil {
		return adapter.Outcome{}, err
	}
	resCode, convErr := strconv.Atoi(strings.SplitN(ret, ",", 2)[0])
	if convErr != nil {
		return adapter.Outcome{}, &adapter.GatewayError{Gateway: model.GatewayMellat, Op: op, Code: codes.ProtocolError,
			Err: fmt.Errorf("unparseable return %q", ret)}
	}
	code, desc := codes.Mellat(resCode)
	success := code == codes.Success || (settledOK && code == codes.AlreadySettled)
	m.log.Info().Str("request_id", requestID).Str("op", op).Int("res_code", resCode).
		Bool("success", success).Msg("mellat response")
	return adapter.Outcome{
		Success:      success,
		Code:         code,
		ProviderCode: strconv.Itoa(resCode),
		Message:      desc,
	}, nil
}

func (m *MellatGateway) VerifyTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return m.operate(ctx, "verify", "bpVerifyRequest", orderRef, gatewayTxRef, false)
}

// SettleTransaction captures the funds. Code 45 (already settled) counts as
// success so a redelivered settle is harmless.
func (m *MellatGateway) SettleTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return m.operate(ctx, "settle", "bpSettleRequest", orderRef, gatewayTxRef, true)
}

func (m *MellatGateway) ReverseTransaction(ctx context.Context, orderRef, gatewayTxRef string) (adapter.Outcome, error) {
	return m.operate(ctx, "reverse", "bpReversalRequest", orderRef, gatewayTxRef, false)
}
