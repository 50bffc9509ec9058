package projections

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/events"
	"github.com/ripkitten-co/tabby/internal/codecs"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"go.opentelemetry.io/otel/trace"
)

// Manager controls projections from the outside by writing their status,
// and builds queries and projectors over one event store.
type Manager struct {
	es      *events.Store
	rows    *CheckpointStore
	dialect sqldb.Dialect
	codec   codecs.Codec
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewManager creates a manager over the backend's projections table.
func NewManager(b tabby.Backend, es *events.Store) *Manager {
	return &Manager{
		es:      es,
		rows:    NewCheckpointStore(b),
		dialect: b.Dialect(),
		codec:   b.JSONCodec(),
		logger:  b.Logger(),
		tracer:  b.Tracer(),
	}
}

func (m *Manager) deps(name string) deps {
	return deps{
		src:    storeReader{m.es},
		rows:   m.rows,
		codec:  m.codec,
		logger: m.logger.With("projection", name),
		tracer: m.tracer,
	}
}

// Checkpoints exposes the underlying projection rows.
func (m *Manager) Checkpoints() *CheckpointStore { return m.rows }

func (m *Manager) setStatus(ctx context.Context, name string, status Status) error {
	found, err := m.rows.SetStatus(ctx, name, status)
	if err != nil {
		return fmt.Errorf("projections: %w", err)
	}
	if !found {
		return fmt.Errorf("projections: %s: %w", name, tabby.ErrProjectionNotFound)
	}
	m.logger.Info("projection status changed", "projection", name, "status", status)
	return nil
}

// StopProjection asks the running projector to stop.
func (m *Manager) StopProjection(ctx context.Context, name string) error {
	return m.setStatus(ctx, name, StatusStopping)
}

// ResetProjection asks the projector to reset before its next pass.
func (m *Manager) ResetProjection(ctx context.Context, name string) error {
	return m.setStatus(ctx, name, StatusResetting)
}

// DeleteProjection asks the projector to delete itself, optionally with
// its emitted events or read model.
func (m *Manager) DeleteProjection(ctx context.Context, name string, inclEmitted bool) error {
	if inclEmitted {
		return m.setStatus(ctx, name, StatusDeletingInclEmittedEvents)
	}
	return m.setStatus(ctx, name, StatusDeleting)
}

// FetchProjectionNames lists projection names ordered by name. A non-empty
// filter matches the name exactly.
func (m *Manager) FetchProjectionNames(ctx context.Context, nameFilter string, limit, offset int) ([]string, error) {
	if err := checkPage(limit, offset); err != nil {
		return nil, err
	}
	var where sq.Sqlizer
	if nameFilter != "" {
		where = sq.Eq{m.dialect.Quote("name"): nameFilter}
	}
	names, err := m.rows.Names(ctx, where, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("projections: %w", err)
	}
	return names, nil
}

// FetchProjectionNamesRegex lists projection names matching pattern.
func (m *Manager) FetchProjectionNamesRegex(ctx context.Context, pattern string, limit, offset int) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("projections: fetch names: empty pattern: %w", tabby.ErrConfiguration)
	}
	if err := checkPage(limit, offset); err != nil {
		return nil, err
	}
	where := sq.Expr(m.dialect.Quote("name")+" "+m.dialect.RegexOperator()+" ?", pattern)
	names, err := m.rows.Names(ctx, where, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("projections: %w", err)
	}
	return names, nil
}

// FetchProjectionStatus returns the stored status.
func (m *Manager) FetchProjectionStatus(ctx context.Context, name string) (Status, error) {
	status, found, err := m.rows.Status(ctx, name)
	if err != nil {
		return "", fmt.Errorf("projections: %w", err)
	}
	if !found {
		return "", fmt.Errorf("projections: %s: %w", name, tabby.ErrProjectionNotFound)
	}
	return status, nil
}

// FetchProjectionStreamPositions returns the checkpointed position per stream.
func (m *Manager) FetchProjectionStreamPositions(ctx context.Context, name string) (map[string]int64, error) {
	cp, err := m.rows.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("projections: %w", err)
	}
	out := map[string]int64{}
	if codecs.IsEmpty(cp.Position) {
		return out, nil
	}
	if err := m.codec.Unmarshal(cp.Position, &out); err != nil {
		return nil, fmt.Errorf("projections: %s: decode position: %w", name, err)
	}
	return out, nil
}

// FetchProjectionState returns the checkpointed state as raw JSON.
func (m *Manager) FetchProjectionState(ctx context.Context, name string) ([]byte, error) {
	cp, err := m.rows.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("projections: %w", err)
	}
	return cp.State, nil
}

// FetchProjectionStateAs decodes the checkpointed state into S. An empty
// state gives the zero value.
func FetchProjectionStateAs[S any](ctx context.Context, m *Manager, name string) (S, error) {
	var state S
	raw, err := m.FetchProjectionState(ctx, name)
	if err != nil {
		return state, err
	}
	if codecs.IsEmpty(raw) {
		return state, nil
	}
	if err := m.codec.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("projections: %s: decode state: %w", name, err)
	}
	return state, nil
}

func checkPage(limit, offset int) error {
	if limit <= 0 || offset < 0 {
		return fmt.Errorf("projections: invalid page limit=%d offset=%d: %w", limit, offset, tabby.ErrConfiguration)
	}
	return nil
}
