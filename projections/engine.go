package projections

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/events"
)

// engine folds the events of the tracked streams into state. It is shared
// by Query and Projector and is not safe for concurrent passes.
type engine[S any] struct {
	name      string
	def       Definition[S]
	src       eventStore
	pos       *positions
	state     S
	stopped   atomic.Bool
	readModel ReadModel
	linkTo    func(ctx context.Context, stream string, evt events.StreamEvent) error
}

func newEngine[S any](name string, def Definition[S], src eventStore) *engine[S] {
	return &engine[S]{
		name:  name,
		def:   def,
		src:   src,
		pos:   newPositions(),
		state: def.initial(),
	}
}

func (e *engine[S]) label() string {
	if e.name == "" {
		return "query"
	}
	return e.name
}

func (e *engine[S]) stop() { e.stopped.Store(true) }

// prepare resolves the source and starts unseen streams at 0.
func (e *engine[S]) prepare(ctx context.Context) error {
	names, err := e.def.Source.resolve(ctx, e.src)
	if err != nil {
		return fmt.Errorf("projections: %s: resolve streams: %w", e.label(), err)
	}
	e.pos.merge(names)
	return nil
}

func (e *engine[S]) reset() {
	e.pos.reset()
	e.state = e.def.initial()
}

// pass reads every tracked stream after its position once. onHandled runs
// after each event that had a handler.
func (e *engine[S]) pass(ctx context.Context, onHandled func(context.Context) error) error {
	for _, stream := range e.pos.names() {
		if e.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		it, err := e.src.Open(ctx, stream, e.pos.get(stream)+1)
		if errors.Is(err, tabby.ErrStreamNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("projections: %s: load %s: %w", e.label(), stream, err)
		}

		hc := &HandlerContext{
			name:      e.name,
			stream:    stream,
			stop:      e.stop,
			readModel: e.readModel,
			linkTo:    e.linkTo,
		}
		for it.Next(ctx) {
			evt := it.Event()
			e.pos.set(stream, evt.No)
			if h := e.def.handler(evt.Name); h != nil {
				next, err := h(ctx, hc, e.state, evt)
				if err != nil {
					return fmt.Errorf("projections: %s: handle %s #%d in %s: %w", e.label(), evt.Name, evt.No, stream, err)
				}
				e.state = next
				if onHandled != nil {
					if err := onHandled(ctx); err != nil {
						return err
					}
				}
			}
			if e.stopped.Load() || ctx.Err() != nil {
				break
			}
		}
		if err := it.Err(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("projections: %s: read %s: %w", e.label(), stream, err)
		}
	}
	return nil
}
