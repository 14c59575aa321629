package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fuel-pricing/core/record"
)

var _ record.TxRunner = (*TxRunner)(nil)

// Beginner starts transactions; *pgxpool.Pool satisfies it
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner runs callbacks inside one PostgreSQL transaction
type TxRunner struct {
	db Beginner
}

// NewTxRunner builds the runner over a pool
func NewTxRunner(db Beginner) *TxRunner {
	return &TxRunner{db: db}
}

// WithinTx begins a transaction, hands fn a record store bound to it and
// commits only when fn succeeds
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, store record.Store) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, NewRecordRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
