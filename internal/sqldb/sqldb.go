package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Executor abstracts query execution. *sql.DB, *sql.Conn and Tx all
// implement it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner is an executor that can open a transaction.
type Beginner interface {
	Executor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Transactional indicates whether the executor is running inside a transaction.
type Transactional interface {
	InTransaction() bool
}

// Tx wraps a *sql.Tx so callers can tell they are already inside a
// transaction and must not open another one.
type Tx struct {
	*sql.Tx
}

func (Tx) InTransaction() bool { return true }

// InTx runs fn inside a transaction when enabled and exec can begin one.
// Executors already inside a transaction run fn directly.
func InTx(ctx context.Context, exec Executor, enabled bool, fn func(Executor) error) error {
	if t, ok := exec.(Transactional); ok && t.InTransaction() {
		return fn(exec)
	}
	b, ok := exec.(Beginner)
	if !enabled || !ok {
		return fn(exec)
	}

	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: begin: %w", err)
	}
	if err := fn(Tx{tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("sqldb: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: commit: %w", err)
	}
	return nil
}
