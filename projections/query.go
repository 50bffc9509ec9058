package projections

import (
	"context"
	"fmt"
)

// Query folds events into in-memory state. Nothing is persisted; a second
// Run continues after the events seen by the first.
type Query[S any] struct {
	e *engine[S]
}

// NewQuery validates def and returns a query over the manager's event store.
func NewQuery[S any](m *Manager, def Definition[S]) (*Query[S], error) {
	return newQuery(storeReader{m.es}, def)
}

func newQuery[S any](src eventStore, def Definition[S]) (*Query[S], error) {
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("projections: new query: %w", err)
	}
	return &Query[S]{e: newEngine("", def, src)}, nil
}

// Run makes a single pass over the source. A handler calling Stop ends it
// early.
func (q *Query[S]) Run(ctx context.Context) error {
	q.e.stopped.Store(false)
	if err := q.e.prepare(ctx); err != nil {
		return err
	}
	if err := q.e.pass(ctx, nil); err != nil {
		return err
	}
	return ctx.Err()
}

// Reset forgets all positions and restores the initial state.
func (q *Query[S]) Reset() { q.e.reset() }

// Stop ends a running pass after the current event.
func (q *Query[S]) Stop() { q.e.stop() }

// State returns the folded state.
func (q *Query[S]) State() S { return q.e.state }
