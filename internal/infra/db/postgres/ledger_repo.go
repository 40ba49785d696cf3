package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/repository"
)

var _ repository.LedgerRepository = (*ledgerRepo)(nil)

type ledgerRepo struct{ pool *pgxpool.Pool }

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

const entryColumns = `id, intent_id, account_ref, direction, amount_toman, prev_balance, new_balance, cause, applied_at`

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	e := &model.LedgerEntry{}
	if err := row.Scan(&e.ID, &e.IntentID, &e.AccountRef, &e.Direction, &e.AmountToman, &e.PrevBalance, &e.NewBalance, &e.Cause, &e.AppliedAt); err != nil {
		return nil, scanErr(err)
	}
	return e, nil
}

// Apply books the entry and moves the balance. Callers run it inside a
// transaction; the row lock on wallet_balances and the unique index on
// (intent_id, direction) make concurrent applications converge on one entry.
func (r *ledgerRepo) Apply(ctx context.Context, tx any, e *model.LedgerEntry) error {
	// Zero baseline for first-time accounts, then lock the balance row.
	const seed = `INSERT INTO wallet_balances (account_ref, balance, updated_at) VALUES ($1, 0, NOW()) ON CONFLICT (account_ref) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, seed, e.AccountRef); err != nil {
		return opErr(err)
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT balance FROM wallet_balances WHERE account_ref=$1 FOR UPDATE;`, e.AccountRef)
	if err != nil {
		return err
	}
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return scanErr(err)
	}

	e.PrevBalance = balance
	if e.Direction == model.DirectionCredit {
		e.NewBalance = balance + e.AmountToman
	} else {
		e.NewBalance = balance - e.AmountToman
		if e.NewBalance < 0 {
			return domain.ErrNegativeBalance
		}
	}

	const ins = `
INSERT INTO ledger_entries (
  id, intent_id, account_ref, direction, amount_toman, prev_balance, new_balance, cause, applied_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (intent_id, direction) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, ins, e.ID, e.IntentID, e.AccountRef, e.Direction, e.AmountToman, e.PrevBalance, e.NewBalance, e.Cause, e.AppliedAt)
	if err != nil {
		return opErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDuplicateEntry
	}

	const upd = `UPDATE wallet_balances SET balance=$2, updated_at=NOW() WHERE account_ref=$1;`
	if _, err := execSQL(ctx, r.pool, tx, upd, e.AccountRef, e.NewBalance); err != nil {
		return opErr(err)
	}
	return nil
}

func (r *ledgerRepo) FindByIntent(ctx context.Context, tx any, intentID string, direction model.EntryDirection) (*model.LedgerEntry, error) {
	const q = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE intent_id=$1 AND direction=$2 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, intentID, direction)
	if err != nil {
		return nil, err
	}
	return scanEntry(row)
}

func (r *ledgerRepo) ListByAccount(ctx context.Context, tx any, accountRef string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_ref=$1 ORDER BY applied_at DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountRef, limit)
	if err != nil {
		return nil, opErr(err)
	}
	defer rows.Close()

	var out []*model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *ledgerRepo) Balance(ctx context.Context, tx any, accountRef string) (*model.WalletBalance, error) {
	const q = `SELECT account_ref, balance, updated_at FROM wallet_balances WHERE account_ref=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, accountRef)
	if err != nil {
		return nil, err
	}
	b := &model.WalletBalance{}
	if err := row.Scan(&b.AccountRef, &b.Balance, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Unknown accounts read as empty wallets.
			return &model.WalletBalance{AccountRef: accountRef}, nil
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return b, nil
}

func opErr(err error) error {
	if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
		return err
	}
	return domain.ErrOperationFailed
}
