// File: internal/usecase/callback_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
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
var _ CallbackUseCase = (*callbackUC)(nil)

// Callback carries the normalized fields of one gateway return trip. The web
// layer extracts them from each provider's form/query shape.
type Callback struct {
	Gateway      model.GatewayName
	OrderRef     string // ResNum / SaleOrderId / transactionId
	GatewayTxRef string // RefNum / SaleReferenceId / paymentToken
	// ProviderState is the raw outcome field the payer's browser brought back:
	// Mellat ResCode, Saman State, SnappPay transactionState.
	ProviderState string
}

// CallbackResult tells the web layer how the round ended. Status is "success"
// or "failure"; Reason is a short machine token for the failure query param.
type CallbackResult struct {
	Status string
	Reason string
	Intent *model.PaymentIntent
}

const (
	CallbackStatusSuccess = "success"
	CallbackStatusFailure = "failure"
)

type CallbackUseCase interface {
	// Process drives one callback delivery through verify and settle. It is
	// safe to call any number of times with the same delivery.
	Process(ctx context.Context, cb Callback) (*CallbackResult, error)
}

type callbackUC struct {
	intents  repository.PaymentIntentRepository
	ledger   LedgerUseCase
	gateways map[model.GatewayName]adapter.PaymentGateway
	tm       repository.TransactionManager
	locker   adapter.Locker
	lockTTL  time.Duration
	log      *zerolog.Logger
}

func NewCallbackUseCase(
	intents repository.PaymentIntentRepository,
	ledger LedgerUseCase,
	gateways map[model.GatewayName]adapter.PaymentGateway,
	tm repository.TransactionManager,
	locker adapter.Locker,
	logger *zerolog.Logger,
) *callbackUC {
	return &callbackUC{
		intents:  intents,
		ledger:   ledger,
		gateways: gateways,
		tm:       tm,
		locker:   locker,
		lockTTL:  30 * time.Second,
		log:      logger,
	}
}

// dedupeKey derives the lock key for a delivery. Redeliveries of the same
// callback share it; the state CAS covers everything else.
func (cb Callback) dedupeKey() string {
	p := model.PaymentIntent{OrderRef: cb.OrderRef, GatewayTxRef: cb.GatewayTxRef}
	return "payments:cb:" + p.IdempotencyKey()
}

func failure(reason string, intent *model.PaymentIntent) *CallbackResult {
	return &CallbackResult{Status: CallbackStatusFailure, Reason: reason, Intent: intent}
}

func success(intent *model.PaymentIntent) *CallbackResult {
	return &CallbackResult{Status: CallbackStatusSuccess, Intent: intent}
}

func (u *callbackUC) Process(ctx context.Context, cb Callback) (*CallbackResult, error) {
	defer logging.TraceDuration(u.log, "CallbackUC.Process")()
	start := time.Now()
	gwName := string(cb.Gateway)
	defer func() { metrics.ObserveCallbackDuration(gwName, time.Since(start).Seconds()) }()

	gw, ok := u.gateways[cb.Gateway]
	if !ok {
		metrics.IncCallback(gwName, "rejected")
		return failure("unknown_gateway", nil), domain.ErrUnknownGateway
	}
	// Some providers omit the merchant reference on the return trip; recover
	// it from the reference handed out at request time.
	if cb.OrderRef == "" && cb.GatewayTxRef != "" {
		if found, err := u.intents.FindByGatewayRef(ctx, repository.NoTX, cb.Gateway, cb.GatewayTxRef); err == nil {
			cb.OrderRef = found.OrderRef
		}
	}
	if cb.OrderRef == "" {
		metrics.IncCallback(gwName, "rejected")
		return failure("missing_order_ref", nil), fmt.Errorf("%w: order ref missing from callback", domain.ErrInvalidArgument)
	}

	ctx = logging.WithGateway(ctx, gwName)
	ctx = logging.WithOrderRef(ctx, cb.OrderRef)
	log := logging.With(ctx, u.log)

	// Serialize redeliveries of the same callback. The ledger's unique index
	// is the hard guard; the lock just keeps concurrent deliveries from both
	// paying the verify/settle wire cost.
	lockKey := cb.dedupeKey()
	token, err := u.locker.TryLock(ctx, lockKey, u.lockTTL)
	if err != nil {
		metrics.IncCallback(gwName, "rejected")
		return failure("in_progress", nil), err
	}
	defer func() {
		if err := u.locker.Unlock(ctx, lockKey, token); err != nil {
			log.Warn().Err(err).Msg("unlock callback key")
		}
	}()

	intent, err := u.intents.FindByOrderRef(ctx, repository.NoTX, cb.OrderRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("callback for unknown order")
			metrics.IncCallback(gwName, "not_found")
			return failure("not_found", nil), nil
		}
		return nil, err
	}
	ctx = logging.WithIntentID(ctx, intent.ID)
	log = logging.With(ctx, u.log)

	// Redelivery of a finished round: answer from stored state, touch nothing.
	if intent.State.IsTerminal() {
		metrics.IncCallbackDuplicate(gwName)
		if intent.State == model.IntentStateSettled {
			return success(intent), nil
		}
		return failure(intent.FailureCode, intent), nil
	}

	if cb.GatewayTxRef != "" {
		intent.GatewayTxRef = cb.GatewayTxRef
	}

	// The browser-carried state decides whether a verify is even worth it:
	// a user who cancelled on the hosted page never produced money to verify.
	if code, reason, ok := u.rejectedByProvider(cb); ok {
		log.Info().Str("provider_state", cb.ProviderState).Str("reason", reason).Msg("callback reports failure")
		u.markFailed(ctx, intent, code, reason)
		metrics.IncCallback(gwName, "failed")
		return failure(reason, intent), nil
	}

	// Claim the delivery. A lost compare-and-set means another delivery got
	// ahead while we waited for the lock; answer from its result. An intent
	// already in verifying, verified or settling was abandoned mid-round by a
	// delivery that hit a wire error; the lock makes it safe to resume it here.
	switch intent.State {
	case model.IntentStateAwaitingCallback:
		from := intent.State
		if err := intent.Transition(model.IntentStateVerifying, time.Now()); err != nil {
			return nil, err
		}
		if err := u.intents.UpdateStateIf(ctx, repository.NoTX, intent.ID, from, model.IntentStateVerifying, intent); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return u.answerFromStored(ctx, cb, gwName)
			}
			return nil, err
		}
	case model.IntentStateVerifying, model.IntentStateVerified, model.IntentStateSettling:
		// resume
	default:
		return u.answerFromStored(ctx, cb, gwName)
	}

	if intent.State == model.IntentStateVerifying {
		out, err := gw.VerifyTransaction(ctx, intent.OrderRef, intent.GatewayTxRef)
		if err != nil {
			// Transport trouble: leave the intent in verifying so a redelivery
			// can finish the round.
			log.Error().Err(err).Msg("verify call failed")
			metrics.IncCallback(gwName, "error")
			return failure("verify_error", intent), err
		}
		if !out.Success {
			log.Info().Str("code", string(out.Code)).Str("provider_code", out.ProviderCode).Msg("verify rejected")
			u.reverseAfterFailedVerify(ctx, gw, intent)
			u.markFailed(ctx, intent, out.Code, string(out.Code))
			metrics.IncCallback(gwName, "failed")
			return failure(string(out.Code), intent), nil
		}
		if err := intent.Transition(model.IntentStateVerified, time.Now()); err != nil {
			return nil, err
		}
		if err := u.intents.UpdateStateIf(ctx, repository.NoTX, intent.ID, model.IntentStateVerifying, model.IntentStateVerified, intent); err != nil {
			return nil, err
		}
	}

	// Mark the capture in flight so a crash between settle and the ledger
	// write is visible as settling, not verified.
	if intent.State == model.IntentStateVerified {
		if err := intent.Transition(model.IntentStateSettling, time.Now()); err != nil {
			return nil, err
		}
		if err := u.intents.UpdateStateIf(ctx, repository.NoTX, intent.ID, model.IntentStateVerified, model.IntentStateSettling, intent); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return u.answerFromStored(ctx, cb, gwName)
			}
			return nil, err
		}
	}

	out, err := gw.SettleTransaction(ctx, intent.OrderRef, intent.GatewayTxRef)
	if err != nil {
		log.Error().Err(err).Msg("settle call failed")
		metrics.IncCallback(gwName, "error")
		return failure("settle_error", intent), err
	}
	if !out.Success {
		log.Warn().Str("code", string(out.Code)).Str("provider_code", out.ProviderCode).Msg("settle rejected")
		u.markFailed(ctx, intent, out.Code, string(out.Code))
		metrics.IncCallback(gwName, "failed")
		return failure(string(out.Code), intent), nil
	}

	// Settled at the provider. Book the state change and the wallet credit in
	// one transaction; the unique ledger index makes a racing double-settle
	// converge on a single credit.
	if err := intent.Transition(model.IntentStateSettled, time.Now()); err != nil {
		return nil, err
	}
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.intents.UpdateStateIf(ctx, tx, intent.ID, model.IntentStateSettling, model.IntentStateSettled, intent); err != nil {
			return err
		}
		_, err := u.ledger.Credit(ctx, tx, intent, "Wallet Topup")
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return u.answerFromStored(ctx, cb, gwName)
		}
		return nil, err
	}

	metrics.IncCallback(gwName, "settled")
	metrics.IncIntent(gwName, "settled")
	log.Info().Str("intent_id", intent.ID).Int64("amount_toman", intent.AmountToman).Msg("payment settled and credited")
	return success(intent), nil
}

// rejectedByProvider inspects the browser-carried state for an outright
// failure. Absent or odd states fall through to verify, which is the source
// of truth.
func (u *callbackUC) rejectedByProvider(cb Callback) (codes.Canonical, string, bool) {
	switch cb.Gateway {
	case model.GatewayMellat:
		if cb.ProviderState == "" {
			return "", "", false
		}
		resCode, err := strconv.Atoi(cb.ProviderState)
		if err != nil || resCode == 0 {
			return "", "", false
		}
		code, _ := codes.Mellat(resCode)
		return code, string(code), true
	case model.GatewaySaman:
		if cb.ProviderState == "" {
			return "", "", false
		}
		// Numeric Status 2 and textual OK both mean the payer finished.
		if cb.ProviderState == "2" {
			return "", "", false
		}
		code, _ := codes.SamanState(cb.ProviderState)
		if code == codes.Success {
			return "", "", false
		}
		return code, string(code), true
	default:
		// SnappPay reports nothing trustworthy in the redirect; verify decides.
		return "", "", false
	}
}

// answerFromStored re-reads the intent after losing a race and answers from
// whatever the winning delivery produced.
func (u *callbackUC) answerFromStored(ctx context.Context, cb Callback, gwName string) (*CallbackResult, error) {
	intent, err := u.intents.FindByOrderRef(ctx, repository.NoTX, cb.OrderRef)
	if err != nil {
		return nil, err
	}
	metrics.IncCallbackDuplicate(gwName)
	if intent.State == model.IntentStateSettled {
		return success(intent), nil
	}
	if intent.State.IsTerminal() {
		return failure(intent.FailureCode, intent), nil
	}
	return failure("in_progress", intent), nil
}

// reverseAfterFailedVerify gives the payer their money back when verify says
// the funds cannot be claimed. Saman blocks the funds on the payer's card
// until an explicit reverse; best effort, failures only logged.
func (u *callbackUC) reverseAfterFailedVerify(ctx context.Context, gw adapter.PaymentGateway, intent *model.PaymentIntent) {
	if intent.Gateway != model.GatewaySaman || intent.GatewayTxRef == "" {
		return
	}
	if out, err := gw.ReverseTransaction(ctx, intent.OrderRef, intent.GatewayTxRef); err != nil {
		u.log.Warn().Err(err).Str("intent_id", intent.ID).Msg("auto-reverse after failed verify")
	} else if !out.Success {
		u.log.Warn().Str("intent_id", intent.ID).Str("code", string(out.Code)).Msg("auto-reverse refused")
	}
}

// markFailed parks the intent in failed with the canonical reason. Best
// effort; the delivery result is already decided.
func (u *callbackUC) markFailed(ctx context.Context, intent *model.PaymentIntent, code codes.Canonical, reason string) {
	from := intent.State
	intent.FailureCode = string(code)
	intent.FailureMsg = reason
	if err := intent.Transition(model.IntentStateFailed, time.Now()); err != nil {
		u.log.Error().Err(err).Str("intent_id", intent.ID).Msg("cannot fail intent")
		return
	}
	if err := u.intents.UpdateStateIf(ctx, repository.NoTX, intent.ID, from, model.IntentStateFailed, intent); err != nil {
		u.log.Error().Err(err).Str("intent_id", intent.ID).Msg("persist failed intent")
		return
	}
	metrics.IncIntent(string(intent.Gateway), "failed")
}
