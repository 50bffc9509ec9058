package readmodel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/codecs"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/internal/tags"
	"github.com/ripkitten-co/tabby/schema"
)

// ErrDocumentNotFound is returned when loading or updating a missing document.
var ErrDocumentNotFound = errors.New("readmodel: document not found")

// Documents is a read model keeping T as JSON documents keyed by id. The id
// comes from a `tabby:"id"` field or a field named ID; an optional
// `tabby:"version"` int field enables optimistic updates. Unlike BunTable and
// GormTable it runs on every vendor and inside a tabby.Session.
type Documents[T any] struct {
	table   string
	exec    sqldb.Executor
	dialect sqldb.Dialect
	codec   codecs.Codec
	schema  *schema.Bootstrap
	tx      bool
	now     func() time.Time
	q       queue[T]
}

func NewDocuments[T any](b tabby.Backend, table string) (*Documents[T], error) {
	if err := schema.ValidateTableName(table); err != nil {
		return nil, fmt.Errorf("readmodel: %w: %w", err, tabby.ErrConfiguration)
	}
	return &Documents[T]{
		table:   table,
		exec:    b.DBExecutor(),
		dialect: b.Dialect(),
		codec:   b.JSONCodec(),
		schema:  b.SchemaBootstrap(),
		tx:      b.Settings().Transactions,
		now:     time.Now,
	}, nil
}

func (d *Documents[T]) quoted() string { return d.dialect.Quote(d.table) }

func (d *Documents[T]) Init(ctx context.Context) error {
	if err := d.schema.EnsureDocuments(ctx, d.exec, d.table); err != nil {
		return fmt.Errorf("readmodel: %w", err)
	}
	return nil
}

func (d *Documents[T]) IsInitialized(ctx context.Context) (bool, error) {
	current := "DATABASE()"
	if d.dialect.IsPostgres() {
		current = "current_schema()"
	}
	query, args, err := d.dialect.Builder().
		Select("COUNT(*)").
		From("information_schema.tables").
		Where("table_schema = " + current).
		Where(sq.Eq{"table_name": d.table}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("readmodel: %s: build sql: %w", d.table, err)
	}
	var n int
	if err := d.exec.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("readmodel: %s: %w", d.table, tabby.NewRuntimeError("is initialized", err))
	}
	return n > 0, nil
}

// Reset deletes every document. DELETE rather than TRUNCATE keeps it
// transactional on MySQL.
func (d *Documents[T]) Reset(ctx context.Context) error {
	d.q.clear()
	if _, err := d.exec.ExecContext(ctx, "DELETE FROM "+d.quoted()); err != nil {
		return fmt.Errorf("readmodel: reset %s: %w", d.table, tabby.NewRuntimeError("reset", err))
	}
	return nil
}

func (d *Documents[T]) Delete(ctx context.Context) error {
	d.q.clear()
	if _, err := d.exec.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.quoted()); err != nil {
		return fmt.Errorf("readmodel: drop %s: %w", d.table, tabby.NewRuntimeError("drop", err))
	}
	d.schema.InvalidateTable(d.table)
	return nil
}

func (d *Documents[T]) Stack(operation string, args ...any) {
	d.q.push(operation, args)
}

// Persist applies the stacked operations in order, in one transaction when
// transactions are enabled. Deleting a missing document is not an error.
func (d *Documents[T]) Persist(ctx context.Context) error {
	ops, err := d.q.drain()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return sqldb.InTx(ctx, d.exec, d.tx, func(exec sqldb.Executor) error {
		for _, o := range ops {
			if err := d.apply(ctx, exec, o); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Documents[T]) apply(ctx context.Context, exec sqldb.Executor, o op[T]) error {
	id, err := tags.ExtractID(o.row)
	if err != nil {
		return fmt.Errorf("readmodel: %s %s: %w: %w", o.kind, d.table, err, tabby.ErrConfiguration)
	}
	if o.kind == OpDelete {
		return d.exec1(ctx, exec, o.kind, id, d.dialect.Builder().Delete(d.quoted()).Where(sq.Eq{"id": id}))
	}

	data, err := d.codec.Marshal(o.row)
	if err != nil {
		return fmt.Errorf("readmodel: %s %s: marshal: %w", o.kind, id, err)
	}
	now := d.now().UTC().Truncate(time.Microsecond)

	switch o.kind {
	case OpInsert:
		insert := d.dialect.Builder().Insert(d.quoted()).
			Columns("id", "data", "version", "updated_at").
			Values(id, string(data), 1, now)
		if err := d.exec1(ctx, exec, o.kind, id, insert); err != nil {
			return err
		}
		tags.SetVersion(o.row, 1)

	case OpUpdate:
		current, versioned := tags.ExtractVersion(o.row)
		update := d.dialect.Builder().Update(d.quoted()).
			Set("data", string(data)).
			Set("version", sq.Expr("version + 1")).
			Set("updated_at", now).
			Where(sq.Eq{"id": id})
		if versioned {
			update = update.Where(sq.Eq{"version": current})
		}
		n, err := d.run(ctx, exec, o.kind, id, update)
		if err != nil {
			return err
		}
		if n == 0 {
			if versioned {
				return fmt.Errorf("readmodel: update %s: %w", id, tabby.ErrConcurrencyConflict)
			}
			return fmt.Errorf("readmodel: update %s: %w", id, ErrDocumentNotFound)
		}
		if versioned {
			tags.SetVersion(o.row, current+1)
		}

	case OpUpsert:
		insert := d.dialect.Builder().Insert(d.quoted()).
			Columns("id", "data", "version", "updated_at").
			Values(id, string(data), 1, now)
		if d.dialect.IsPostgres() {
			insert = insert.Suffix("ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, version = " +
				d.quoted() + ".version + 1, updated_at = EXCLUDED.updated_at")
		} else {
			insert = insert.Suffix("ON DUPLICATE KEY UPDATE data = VALUES(data), version = version + 1, updated_at = VALUES(updated_at)")
		}
		return d.exec1(ctx, exec, o.kind, id, insert)
	}
	return nil
}

func (d *Documents[T]) exec1(ctx context.Context, exec sqldb.Executor, kind, id string, b sq.Sqlizer) error {
	_, err := d.run(ctx, exec, kind, id, b)
	return err
}

func (d *Documents[T]) run(ctx context.Context, exec sqldb.Executor, kind, id string, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("readmodel: %s %s: build sql: %w", kind, id, err)
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		if sqldb.IsDuplicate(err) {
			return 0, fmt.Errorf("readmodel: %s %s: %w", kind, id, tabby.ErrConcurrencyConflict)
		}
		return 0, fmt.Errorf("readmodel: %s %s: %w", kind, id, tabby.NewRuntimeError(kind, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("readmodel: %s %s: rows affected: %w", kind, id, err)
	}
	return n, nil
}

// Load returns the document with id, its version field set from the row.
func (d *Documents[T]) Load(ctx context.Context, id string) (*T, error) {
	query, args, err := d.dialect.Builder().
		Select("data", "version").
		From(d.quoted()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("readmodel: load %s: build sql: %w", id, err)
	}

	var data []byte
	var version int64
	err = d.exec.QueryRowContext(ctx, query, args...).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("readmodel: load %s: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("readmodel: load %s: %w", id, tabby.NewRuntimeError("load", err))
	}

	var doc T
	if err := d.codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("readmodel: load %s: unmarshal: %w", id, err)
	}
	tags.SetVersion(&doc, version)
	return &doc, nil
}
