package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying transaction handle via `qx`.
//
// Repository methods accept `qx any` and detect a tx implementation-side,
// so use-case interfaces stay free of storage types. Repositories MUST
// gracefully accept `nil` qx (non-transactional path).
//
// USAGE
// tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
// // call repositories with the same ctx and tx
// intent, err := intents.FindByOrderRef(ctx, tx, orderRef)
// ...
// return err
// })
//
// The concrete type of `qx` is infra-defined (e.g., pgx.Tx for Postgres).
// Keep this interface small and stable.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
