// File: internal/usecase/intent_uc.go
package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/codes"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/adapter"
	"storefront-payments/internal/domain/ports/repository"
	"storefront-payments/internal/infra/logging"
	"storefront-payments/internal/infra/metrics"
)

// Compile-time check
var _ IntentUseCase = (*intentUC)(nil)

type IntentUseCase interface {
	// Initiate creates a payment intent, opens a session with the gateway and
	// returns the intent plus the URL the payer must be redirected to.
	Initiate(ctx context.Context, orderRef, payerRef string, gateway model.GatewayName, amountToman int64, description string) (*model.PaymentIntent, string, error)
	// Reverse undoes a verified or settled intent at the provider and books
	// the compensating ledger entry.
	Reverse(ctx context.Context, orderRef string) (*model.PaymentIntent, error)
	// Cancel aborts an intent that never reached the gateway. Once a gateway
	// reference exists the payer may already be paying and Reverse is the tool.
	Cancel(ctx context.Context, orderRef string) (*model.PaymentIntent, error)
	Get(ctx context.Context, orderRef string) (*model.PaymentIntent, error)
}

type intentUC struct {
	intents     repository.PaymentIntentRepository
	ledger      LedgerUseCase
	gateways    map[model.GatewayName]adapter.PaymentGateway
	tm          repository.TransactionManager
	callbackURL func(gateway model.GatewayName) string
	log         *zerolog.Logger
}

func NewIntentUseCase(
	intents repository.PaymentIntentRepository,
	ledger LedgerUseCase,
	gateways map[model.GatewayName]adapter.PaymentGateway,
	tm repository.TransactionManager,
	callbackURL func(gateway model.GatewayName) string,
	logger *zerolog.Logger,
) *intentUC {
	return &intentUC{
		intents:     intents,
		ledger:      ledger,
		gateways:    gateways,
		tm:          tm,
		callbackURL: callbackURL,
		log:         logger,
	}
}

func newIntentID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (u *intentUC) Initiate(ctx context.Context, orderRef, payerRef string, gateway model.GatewayName, amountToman int64, description string) (*model.PaymentIntent, string, error) {
	defer logging.TraceDuration(u.log, "IntentUC.Initiate")()

	if orderRef == "" || payerRef == "" {
		return nil, "", fmt.Errorf("%w: order and payer refs are required", domain.ErrInvalidArgument)
	}
	if amountToman <= 0 {
		return nil, "", fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	gw, ok := u.gateways[gateway]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrUnknownGateway, gateway)
	}

	// One live intent per order. A failed or cancelled intent may be retried
	// with a fresh one.
	if existing, err := u.intents.FindByOrderRef(ctx, repository.NoTX, orderRef); err == nil && existing != nil {
		if !existing.State.IsTerminal() {
			return nil, "", fmt.Errorf("%w: order %s has a pending intent", domain.ErrAlreadyExists, orderRef)
		}
		if existing.State == model.IntentStateSettled || existing.State == model.IntentStateReversed {
			return nil, "", fmt.Errorf("%w: order %s already paid", domain.ErrAlreadyExists, orderRef)
		}
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, "", err
	}

	// Providers that can refuse an amount up front get asked before an intent
	// row exists.
	if chk, ok := gw.(adapter.InstallmentGateway); ok {
		eligible, err := chk.Eligible(ctx, amountToman)
		if err != nil {
			return nil, "", err
		}
		if !eligible {
			return nil, "", fmt.Errorf("%w: %s refused %d toman", domain.ErrNotEligible, gateway, amountToman)
		}
	}

	now := time.Now()
	intent := &model.PaymentIntent{
		ID:           newIntentID(),
		OrderRef:     orderRef,
		PayerRef:     payerRef,
		Gateway:      gateway,
		AmountToman:  amountToman,
		State:        model.IntentStateCreated,
		CallbackURL:  u.callbackURL(gateway),
		CreatedAt:    now,
		TransitionAt: now,
	}
	if err := u.intents.Save(ctx, repository.NoTX, intent); err != nil {
		return nil, "", err
	}
	metrics.IncIntent(string(gateway), "initiated")

	session, err := gw.RequestPayment(ctx, adapter.PaymentRequest{
		OrderRef:    orderRef,
		PayerRef:    payerRef,
		AmountToman: amountToman,
		CallbackURL: intent.CallbackURL,
		Description: description,
	})
	if err != nil {
		u.failIntent(ctx, intent, err)
		return nil, "", err
	}

	intent.GatewayRef = session.GatewayRef
	if err := intent.Transition(model.IntentStateRequested, time.Now()); err != nil {
		return nil, "", err
	}
	if err := intent.Transition(model.IntentStateAwaitingCallback, time.Now()); err != nil {
		return nil, "", err
	}
	if err := u.intents.Save(ctx, repository.NoTX, intent); err != nil {
		return nil, "", err
	}

	u.log.Info().Str("intent_id", intent.ID).Str("order_ref", orderRef).
		Str("payer_ref", logging.Redact(payerRef)).
		Str("gateway", string(gateway)).Str("gateway_ref", session.GatewayRef).
		Msg("payment intent initiated")
	return intent, session.RedirectURL, nil
}

// failIntent parks the intent in the failed state with the canonical reason.
// Best effort: the original error is what the caller sees.
func (u *intentUC) failIntent(ctx context.Context, intent *model.PaymentIntent, cause error) {
	var gwErr *adapter.GatewayError
	if errors.As(cause, &gwErr) {
		intent.FailureCode = string(gwErr.Code)
	} else {
		intent.FailureCode = string(codes.Unknown)
	}
	intent.FailureMsg = cause.Error()
	if err := intent.Transition(model.IntentStateFailed, time.Now()); err != nil {
		u.log.Error().Err(err).Str("intent_id", intent.ID).Msg("cannot fail intent")
		return
	}
	if err := u.intents.Save(ctx, repository.NoTX, intent); err != nil {
		u.log.Error().Err(err).Str("intent_id", intent.ID).Msg("persist failed intent")
	}
	metrics.IncIntent(string(intent.Gateway), "failed")
}

func (u *intentUC) Reverse(ctx context.Context, orderRef string) (*model.PaymentIntent, error) {
	defer logging.TraceDuration(u.log, "IntentUC.Reverse")()

	intent, err := u.intents.FindByOrderRef(ctx, repository.NoTX, orderRef)
	if err != nil {
		return nil, err
	}
	if !intent.State.CanTransition(model.IntentStateReversed) {
		return nil, fmt.Errorf("%w: cannot reverse intent in state %s", domain.ErrInvalidTransition, intent.State)
	}
	gw, ok := u.gateways[intent.Gateway]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGateway, intent.Gateway)
	}

	out, err := gw.ReverseTransaction(ctx, intent.OrderRef, intent.GatewayTxRef)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: gateway refused reversal: %s", domain.ErrOperationFailed, out.Message)
	}

	from := intent.State
	wasSettled := from == model.IntentStateSettled
	if err := intent.Transition(model.IntentStateReversed, time.Now()); err != nil {
		return nil, err
	}
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.intents.UpdateStateIf(ctx, tx, intent.ID, from, model.IntentStateReversed, intent); err != nil {
			return err
		}
		// Only a settled intent has a credit to compensate.
		if wasSettled {
			if _, err := u.ledger.Debit(ctx, tx, intent, "Payment Reversal"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncIntent(string(intent.Gateway), "reversed")
	u.log.Info().Str("intent_id", intent.ID).Str("order_ref", orderRef).
		Str("gateway", string(intent.Gateway)).Msg("payment intent reversed")
	return intent, nil
}

func (u *intentUC) Cancel(ctx context.Context, orderRef string) (*model.PaymentIntent, error) {
	defer logging.TraceDuration(u.log, "IntentUC.Cancel")()

	intent, err := u.intents.FindByOrderRef(ctx, repository.NoTX, orderRef)
	if err != nil {
		return nil, err
	}
	if intent.State != model.IntentStateCreated || intent.GatewayRef != "" {
		return nil, fmt.Errorf("%w: cannot cancel intent in state %s", domain.ErrInvalidTransition, intent.State)
	}
	if err := intent.Transition(model.IntentStateCancelled, time.Now()); err != nil {
		return nil, err
	}
	if err := u.intents.UpdateStateIf(ctx, repository.NoTX, intent.ID, model.IntentStateCreated, model.IntentStateCancelled, intent); err != nil {
		return nil, err
	}
	metrics.IncIntent(string(intent.Gateway), "cancelled")
	u.log.Info().Str("intent_id", intent.ID).Str("order_ref", orderRef).Msg("payment intent cancelled")
	return intent, nil
}

func (u *intentUC) Get(ctx context.Context, orderRef string) (*model.PaymentIntent, error) {
	return u.intents.FindByOrderRef(ctx, repository.NoTX, orderRef)
}
