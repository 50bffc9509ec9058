package readmodel

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// OpenBun wraps a PostgreSQL *sql.DB, such as tabby.Store.DB, for bun.
func OpenBun(db *sql.DB) *bun.DB {
	return bun.NewDB(db, pgdialect.New())
}

// BunTable is a read model stored in the bun model table of T.
type BunTable[T any] struct {
	db *bun.DB
	q  queue[T]
}

func NewBunTable[T any](db *bun.DB) *BunTable[T] {
	return &BunTable[T]{db: db}
}

func (t *BunTable[T]) model() *T { return (*T)(nil) }

func (t *BunTable[T]) Init(ctx context.Context) error {
	if _, err := t.db.NewCreateTable().Model(t.model()).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("readmodel: create table: %w", err)
	}
	return nil
}

func (t *BunTable[T]) IsInitialized(ctx context.Context) (bool, error) {
	table := t.db.Table(reflect.TypeFor[T]())
	var exists bool
	err := t.db.NewRaw("SELECT to_regclass(?) IS NOT NULL", table.Name).Scan(ctx, &exists)
	if err != nil {
		return false, fmt.Errorf("readmodel: table %s exists: %w", table.Name, err)
	}
	return exists, nil
}

func (t *BunTable[T]) Reset(ctx context.Context) error {
	t.q.clear()
	if _, err := t.db.NewTruncateTable().Model(t.model()).Exec(ctx); err != nil {
		return fmt.Errorf("readmodel: truncate: %w", err)
	}
	return nil
}

func (t *BunTable[T]) Delete(ctx context.Context) error {
	t.q.clear()
	if _, err := t.db.NewDropTable().Model(t.model()).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("readmodel: drop table: %w", err)
	}
	return nil
}

func (t *BunTable[T]) Stack(operation string, args ...any) { t.q.push(operation, args) }

func (t *BunTable[T]) Persist(ctx context.Context) error {
	ops, err := t.q.drain()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	conflict := t.conflictClause()
	return t.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, o := range ops {
			var err error
			switch o.kind {
			case OpInsert:
				_, err = tx.NewInsert().Model(o.row).Exec(ctx)
			case OpUpdate:
				_, err = tx.NewUpdate().Model(o.row).WherePK().Exec(ctx)
			case OpUpsert:
				_, err = tx.NewInsert().Model(o.row).On(conflict).Exec(ctx)
			case OpDelete:
				_, err = tx.NewDelete().Model(o.row).WherePK().Exec(ctx)
			}
			if err != nil {
				return fmt.Errorf("readmodel: %s: %w", o.kind, err)
			}
		}
		return nil
	})
}

func (t *BunTable[T]) conflictClause() string {
	table := t.db.Table(reflect.TypeFor[T]())
	pks := make([]string, len(table.PKs))
	for i, f := range table.PKs {
		pks[i] = string(f.SQLName)
	}
	return "CONFLICT (" + strings.Join(pks, ", ") + ") DO UPDATE"
}
