package projections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/sqldb"
)

// Checkpoint is a projection row as stored.
type Checkpoint struct {
	Position    []byte
	State       []byte
	Status      Status
	LockedUntil *time.Time
}

// CheckpointStore reads and writes projection rows: stream positions,
// state, status and the lock expiry used for single-writer coordination.
type CheckpointStore struct {
	exec    sqldb.Executor
	dialect sqldb.Dialect
	table   string
}

// NewCheckpointStore creates a checkpoint store backed by the given tabby backend.
func NewCheckpointStore(b tabby.Backend) *CheckpointStore {
	return &CheckpointStore{
		exec:    b.DBExecutor(),
		dialect: b.Dialect(),
		table:   b.Dialect().Quote(b.Settings().ProjectionsTable),
	}
}

func (cs *CheckpointStore) col(name string) string { return cs.dialect.Quote(name) }

func (cs *CheckpointStore) fail(name, op string, err error) error {
	if sqldb.IsUndefinedTable(err) {
		return fmt.Errorf("checkpoint %s: %s: %w: %w", name, op, tabby.ErrProjectionTableNotProvisioned, tabby.NewRuntimeError(op, err))
	}
	return fmt.Errorf("checkpoint %s: %w", name, tabby.NewRuntimeError(op, err))
}

func (cs *CheckpointStore) exec1(ctx context.Context, name, op string, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: %s: build sql: %w", name, op, err)
	}
	res, err := cs.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, cs.fail(name, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: %s: rows affected: %w", name, op, err)
	}
	return n, nil
}

func lockTime(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

// Status returns the stored status. found is false when there is no row.
func (cs *CheckpointStore) Status(ctx context.Context, name string) (status Status, found bool, err error) {
	query, args, err := cs.dialect.Builder().
		Select(cs.col("status")).
		From(cs.table).
		Where(sq.Eq{cs.col("name"): name}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("checkpoint %s: status: build sql: %w", name, err)
	}

	var raw string
	err = cs.exec.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cs.fail(name, "status", err)
	}
	status, err = ParseStatus(raw)
	if err != nil {
		return "", false, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return status, true, nil
}

// Create inserts an idle row with empty position and state. An existing row
// is left untouched.
func (cs *CheckpointStore) Create(ctx context.Context, name string) error {
	query, args, err := cs.dialect.Builder().
		Insert(cs.table).
		Columns(cs.col("name"), cs.col("position"), cs.col("state"), cs.col("status"), cs.col("locked_until")).
		Values(name, "{}", "{}", string(StatusIdle), nil).
		ToSql()
	if err != nil {
		return fmt.Errorf("checkpoint %s: create: build sql: %w", name, err)
	}
	if _, err := cs.exec.ExecContext(ctx, query, args...); err != nil {
		if sqldb.IsDuplicate(err) {
			return nil
		}
		return cs.fail(name, "create", err)
	}
	return nil
}

// Acquire takes the lock when it is free or expired at now, marking the
// projection running until the given time.
func (cs *CheckpointStore) Acquire(ctx context.Context, name string, now, until time.Time) error {
	b := cs.dialect.Builder().
		Update(cs.table).
		Set(cs.col("locked_until"), lockTime(until)).
		Set(cs.col("status"), string(StatusRunning)).
		Where(sq.Eq{cs.col("name"): name}).
		Where(sq.Or{
			sq.Eq{cs.col("locked_until"): nil},
			sq.Lt{cs.col("locked_until"): lockTime(now)},
		})
	n, err := cs.exec1(ctx, name, "acquire lock", b)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("checkpoint %s: %w", name, tabby.ErrProjectionRunning)
	}
	return nil
}

// Refresh extends the lock without touching position or state.
func (cs *CheckpointStore) Refresh(ctx context.Context, name string, until time.Time) error {
	b := cs.dialect.Builder().
		Update(cs.table).
		Set(cs.col("locked_until"), lockTime(until)).
		Where(sq.Eq{cs.col("name"): name})
	n, err := cs.exec1(ctx, name, "refresh lock", b)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("checkpoint %s: refresh lock: %w", name, tabby.ErrProjectionNotFound)
	}
	return nil
}

// Load reads the whole row.
func (cs *CheckpointStore) Load(ctx context.Context, name string) (Checkpoint, error) {
	query, args, err := cs.dialect.Builder().
		Select(cs.col("position"), cs.col("state"), cs.col("status"), cs.col("locked_until")).
		From(cs.table).
		Where(sq.Eq{cs.col("name"): name}).
		ToSql()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: load: build sql: %w", name, err)
	}

	var (
		cp     Checkpoint
		status string
		locked sql.NullTime
	)
	err = cs.exec.QueryRowContext(ctx, query, args...).Scan(&cp.Position, &cp.State, &status, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", name, tabby.ErrProjectionNotFound)
	}
	if err != nil {
		return Checkpoint{}, cs.fail(name, "load", err)
	}
	if cp.Status, err = ParseStatus(status); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	if locked.Valid {
		t := locked.Time.UTC()
		cp.LockedUntil = &t
	}
	return cp, nil
}

// Persist stores position and state and extends the lock.
func (cs *CheckpointStore) Persist(ctx context.Context, name string, position, state []byte, until time.Time) error {
	b := cs.dialect.Builder().
		Update(cs.table).
		Set(cs.col("position"), string(position)).
		Set(cs.col("state"), string(state)).
		Set(cs.col("locked_until"), lockTime(until)).
		Where(sq.Eq{cs.col("name"): name})
	_, err := cs.exec1(ctx, name, "persist", b)
	return err
}

// Reset overwrites position, state and status.
func (cs *CheckpointStore) Reset(ctx context.Context, name string, status Status, position, state []byte) error {
	b := cs.dialect.Builder().
		Update(cs.table).
		Set(cs.col("position"), string(position)).
		Set(cs.col("state"), string(state)).
		Set(cs.col("status"), string(status)).
		Where(sq.Eq{cs.col("name"): name})
	_, err := cs.exec1(ctx, name, "reset", b)
	return err
}

// SetStatus updates the status column. found is false when there is no row.
func (cs *CheckpointStore) SetStatus(ctx context.Context, name string, status Status) (found bool, err error) {
	b := cs.dialect.Builder().
		Update(cs.table).
		Set(cs.col("status"), string(status)).
		Where(sq.Eq{cs.col("name"): name})
	n, err := cs.exec1(ctx, name, "set status", b)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release marks the projection idle and clears the lock.
func (cs *CheckpointStore) Release(ctx context.Context, name string) error {
	b := cs.dialect.Builder().
		Update(cs.table).
		Set(cs.col("status"), string(StatusIdle)).
		Set(cs.col("locked_until"), nil).
		Where(sq.Eq{cs.col("name"): name})
	_, err := cs.exec1(ctx, name, "release lock", b)
	return err
}

// Delete removes the row. found is false when there was none.
func (cs *CheckpointStore) Delete(ctx context.Context, name string) (found bool, err error) {
	b := cs.dialect.Builder().
		Delete(cs.table).
		Where(sq.Eq{cs.col("name"): name})
	n, err := cs.exec1(ctx, name, "delete", b)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Names lists projection names ordered by name.
func (cs *CheckpointStore) Names(ctx context.Context, where sq.Sqlizer, limit, offset int) ([]string, error) {
	builder := cs.dialect.Builder().
		Select(cs.col("name")).
		From(cs.table).
		OrderBy(cs.col("name")).
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: names: build sql: %w", err)
	}

	rows, err := cs.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cs.fail("*", "names", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("checkpoint: names: scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: names: %w", err)
	}
	return names, nil
}
