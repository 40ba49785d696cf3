package adapter

import (
	"context"
	"fmt"

	"storefront-payments/internal/domain/codes"
	"storefront-payments/internal/domain/model"
)

// PaymentRequest carries everything a provider needs to open a payment session.
// AmountToman is in Toman; each adapter converts to its wire unit itself.
type PaymentRequest struct {
	OrderRef    string
	PayerRef    string
	AmountToman int64
	CallbackURL string
	Description string
}

// PaymentSession is the provider's answer to a payment request: the reference
// to persist on the intent and the URL the payer must be redirected to.
type PaymentSession struct {
	GatewayRef  string
	RedirectURL string
}

// Outcome is the provider-agnostic result of verify/settle/reverse. Success
// already folds in provider quirks such as "already settled" answers on a
// retried settle.
type Outcome struct {
	Success      bool
	Code         codes.Canonical
	ProviderCode string // raw code as the provider sent it, for audit logs
	Message      string
}

// GatewayError marks transport and protocol failures talking to a provider,
// as opposed to business outcomes which arrive as an Outcome. Callers may
// retry when Code is retryable.
type GatewayError struct {
	Gateway model.GatewayName
	Op      string
	Code    codes.Canonical
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Gateway, e.Op, e.Code, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// InstallmentGateway is implemented by providers that can refuse an amount
// up front. Checked before a payment session is opened so an ineligible
// amount never produces an intent.
type InstallmentGateway interface {
	Eligible(ctx context.Context, amountToman int64) (bool, error)
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() model.GatewayName

	// RequestPayment opens a payment session with the provider.
	RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
	// VerifyTransaction confirms with the provider that the payer completed
	// the transaction the callback claims.
	VerifyTransaction(ctx context.Context, orderRef, gatewayTxRef string) (Outcome, error)
	// SettleTransaction captures a verified transaction. Providers that
	// auto-capture return a successful Outcome without a wire call.
	SettleTransaction(ctx context.Context, orderRef, gatewayTxRef string) (Outcome, error)
	// ReverseTransaction undoes a verified or settled transaction.
	ReverseTransaction(ctx context.Context, orderRef, gatewayTxRef string) (Outcome, error)
}
