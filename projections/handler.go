package projections

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/events"
)

// HandlerFunc folds one event into the state and returns the new state.
type HandlerFunc[S any] func(ctx context.Context, hc *HandlerContext, state S, evt events.StreamEvent) (S, error)

// Definition describes what a projection reads and how it folds events.
// Exactly one of Handlers and Any must be set.
type Definition[S any] struct {
	Source Source
	// Init returns the initial state. It is called again on reset. When nil
	// the zero value of S is used.
	Init func() S
	// Handlers are keyed by event name. Events without a handler advance
	// the stream position and are otherwise skipped.
	Handlers map[string]HandlerFunc[S]
	// Any handles every event.
	Any HandlerFunc[S]
}

func (d Definition[S]) validate() error {
	if err := d.Source.validate(); err != nil {
		return err
	}
	switch {
	case d.Any != nil && len(d.Handlers) > 0:
		return fmt.Errorf("projections: handlers and catch-all handler are mutually exclusive: %w", tabby.ErrConfiguration)
	case d.Any == nil && len(d.Handlers) == 0:
		return fmt.Errorf("projections: no handlers configured: %w", tabby.ErrConfiguration)
	}
	for name, h := range d.Handlers {
		if name == "" {
			return fmt.Errorf("projections: handler for empty event name: %w", tabby.ErrConfiguration)
		}
		if h == nil {
			return fmt.Errorf("projections: nil handler for %q: %w", name, tabby.ErrConfiguration)
		}
	}
	return nil
}

func (d Definition[S]) initial() S {
	if d.Init == nil {
		var zero S
		return zero
	}
	return d.Init()
}

func (d Definition[S]) handler(name string) HandlerFunc[S] {
	if d.Any != nil {
		return d.Any
	}
	return d.Handlers[name]
}

// HandlerContext is passed to every handler invocation.
type HandlerContext struct {
	name      string
	stream    string
	stop      func()
	readModel ReadModel
	linkTo    func(ctx context.Context, stream string, evt events.StreamEvent) error
}

// StreamName is the stream the current event was read from.
func (hc *HandlerContext) StreamName() string { return hc.stream }

// Stop asks the projection to stop after the current event.
func (hc *HandlerContext) Stop() { hc.stop() }

// ReadModel returns the read model of a read model projector, nil otherwise.
func (hc *HandlerContext) ReadModel() ReadModel { return hc.readModel }

// Emit appends evt to the stream named after the projection.
func (hc *HandlerContext) Emit(ctx context.Context, evt events.StreamEvent) error {
	return hc.LinkTo(ctx, hc.name, evt)
}

// LinkTo appends evt to stream, creating the stream on first use.
func (hc *HandlerContext) LinkTo(ctx context.Context, stream string, evt events.StreamEvent) error {
	if hc.linkTo == nil {
		return fmt.Errorf("projections: emitting events is only supported by projectors: %w", tabby.ErrConfiguration)
	}
	return hc.linkTo(ctx, stream, evt)
}
