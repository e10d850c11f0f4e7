package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner hands out the pool for single statements and runs multi-statement
// writes in one transaction.
type TxRunner interface {
	DB() DBTX
	InTx(ctx context.Context, fn func(tx DBTX) error) error
}

type poolTxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner wraps a pgx pool.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return &poolTxRunner{pool: pool}
}

func (r *poolTxRunner) DB() DBTX { return r.pool }

func (r *poolTxRunner) InTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
