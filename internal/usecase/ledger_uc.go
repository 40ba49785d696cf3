// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/repository"
	"storefront-payments/internal/infra/logging"
	"storefront-payments/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

type LedgerUseCase interface {
	// Credit applies exactly one credit entry for the intent. Re-crediting the
	// same intent returns the original entry, never a second one.
	Credit(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, cause string) (*model.LedgerEntry, error)
	// Debit applies a compensating debit for a reversed intent.
	Debit(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, cause string) (*model.LedgerEntry, error)
	Balance(ctx context.Context, accountRef string) (*model.WalletBalance, error)
	History(ctx context.Context, accountRef string, limit int) ([]*model.LedgerEntry, error)
}

type ledgerUC struct {
	ledger repository.LedgerRepository
	tm     repository.TransactionManager
	log    *zerolog.Logger
}

func NewLedgerUseCase(ledger repository.LedgerRepository, tm repository.TransactionManager, logger *zerolog.Logger) *ledgerUC {
	return &ledgerUC{ledger: ledger, tm: tm, log: logger}
}

func (u *ledgerUC) apply(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, direction model.EntryDirection, cause string) (*model.LedgerEntry, error) {
	entry := &model.LedgerEntry{
		ID:          uuid.NewString(),
		IntentID:    intent.ID,
		AccountRef:  intent.PayerRef,
		Direction:   direction,
		AmountToman: intent.AmountToman,
		Cause:       cause,
		AppliedAt:   time.Now(),
	}

	run := func(ctx context.Context, tx repository.Tx) error {
		return u.ledger.Apply(ctx, tx, entry)
	}
	var err error
	if tx != nil {
		// Caller already holds a transaction; join it.
		err = run(ctx, tx)
	} else {
		err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, run)
	}

	if errors.Is(err, domain.ErrDuplicateEntry) {
		// The intent was already booked; hand back the entry that won.
		existing, findErr := u.ledger.FindByIntent(ctx, tx, intent.ID, direction)
		if findErr != nil {
			return nil, findErr
		}
		u.log.Debug().Str("intent_id", intent.ID).Msg("ledger entry already applied")
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	metrics.AddLedgerEntry(string(direction), entry.AmountToman)
	u.log.Info().Str("intent_id", intent.ID).Str("direction", string(direction)).
		Int64("amount_toman", entry.AmountToman).Int64("new_balance", entry.NewBalance).
		Msg("ledger entry applied")
	return entry, nil
}

func (u *ledgerUC) Credit(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, cause string) (*model.LedgerEntry, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Credit")()
	return u.apply(ctx, tx, intent, model.DirectionCredit, cause)
}

func (u *ledgerUC) Debit(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, cause string) (*model.LedgerEntry, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Debit")()
	return u.apply(ctx, tx, intent, model.DirectionDebit, cause)
}

func (u *ledgerUC) Balance(ctx context.Context, accountRef string) (*model.WalletBalance, error) {
	return u.ledger.Balance(ctx, repository.NoTX, accountRef)
}

func (u *ledgerUC) History(ctx context.Context, accountRef string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return u.ledger.ListByAccount(ctx, repository.NoTX, accountRef, limit)
}
