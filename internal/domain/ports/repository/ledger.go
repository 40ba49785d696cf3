package repository

import (
	"context"

	"storefront-payments/internal/domain/model"
)

// -----------------------------
// Ledger
// -----------------------------

type LedgerRepository interface {
	// Apply inserts the entry and moves the account balance in one statement
	// set, filling PrevBalance/NewBalance on the entry. A second Apply for the
	// same (intent, direction) returns domain.ErrDuplicateEntry and leaves the
	// balance untouched; the unique index is the authoritative guard, not the
	// caller.
	Apply(ctx context.Context, qx any, e *model.LedgerEntry) error
	FindByIntent(ctx context.Context, qx any, intentID string, direction model.EntryDirection) (*model.LedgerEntry, error)
	ListByAccount(ctx context.Context, qx any, accountRef string, limit int) ([]*model.LedgerEntry, error)
	Balance(ctx context.Context, qx any, accountRef string) (*model.WalletBalance, error)
}
