package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/repository"
)

var _ repository.PaymentIntentRepository = (*intentRepo)(nil)

type intentRepo struct{ pool *pgxpool.Pool }

func NewIntentRepo(pool *pgxpool.Pool) *intentRepo {
	return &intentRepo{pool: pool}
}

const intentColumns = `id, order_ref, payer_ref, gateway, amount_toman, state, gateway_ref, gateway_tx_ref, callback_url, failure_code, failure_msg, created_at, transition_at`

func scanIntent(row pgx.Row) (*model.PaymentIntent, error) {
	p := &model.PaymentIntent{}
	if err := row.Scan(&p.ID, &p.OrderRef, &p.PayerRef, &p.Gateway, &p.AmountToman, &p.State, &p.GatewayRef, &p.GatewayTxRef, &p.CallbackURL, &p.FailureCode, &p.FailureMsg, &p.CreatedAt, &p.TransitionAt); err != nil {
		return nil, scanErr(err)
	}
	return p, nil
}

func (r *intentRepo) Save(ctx context.Context, tx any, p *model.PaymentIntent) error {
	const q = `
INSERT INTO payment_intents (
  id, order_ref, payer_ref, gateway, amount_toman, state, gateway_ref, gateway_tx_ref, callback_url, failure_code, failure_msg, created_at, transition_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
) ON CONFLICT (id) DO UPDATE SET
  state=$6, gateway_ref=$7, gateway_tx_ref=$8, failure_code=$10, failure_msg=$11, transition_at=$13;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.OrderRef, p.PayerRef, p.Gateway, p.AmountToman, p.State, p.GatewayRef, p.GatewayTxRef, p.CallbackURL, p.FailureCode, p.FailureMsg, p.CreatedAt, p.TransitionAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *intentRepo) FindByID(ctx context.Context, tx any, id string) (*model.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanIntent(row)
}

// FindByOrderRef returns the latest intent for the order. Failed intents may
// be superseded by a retry, so newest wins.
func (r *intentRepo) FindByOrderRef(ctx context.Context, tx any, orderRef string) (*model.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE order_ref=$1 ORDER BY created_at DESC LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, orderRef)
	if err != nil {
		return nil, err
	}
	return scanIntent(row)
}

func (r *intentRepo) FindByGatewayRef(ctx context.Context, tx any, gateway model.GatewayName, gatewayRef string) (*model.PaymentIntent, error) {
	const q = `SELECT ` + intentColumns + ` FROM payment_intents WHERE gateway=$1 AND gateway_ref=$2 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, gateway, gatewayRef)
	if err != nil {
		return nil, err
	}
	return scanIntent(row)
}

// UpdateStateIf is the compare-and-set guard for concurrent deliveries: the
// write lands only when the stored state still matches `from`.
func (r *intentRepo) UpdateStateIf(ctx context.Context, tx any, id string, from, to model.IntentState, p *model.PaymentIntent) error {
	const q = `
UPDATE payment_intents
   SET state = $3,
       gateway_tx_ref = $4,
       failure_code = $5,
       failure_msg = $6,
       transition_at = $7
 WHERE id = $1
   AND state = $2;`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, from, to, p.GatewayTxRef, p.FailureCode, p.FailureMsg, p.TransitionAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *intentRepo) ListByState(ctx context.Context, tx any, state model.IntentState, limit int) ([]*model.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + intentColumns + ` FROM payment_intents WHERE state=$1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, state, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
