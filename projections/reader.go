package projections

import (
	"context"
	"time"

	"github.com/ripkitten-co/tabby/events"
	"github.com/ripkitten-co/tabby/metadata"
)

type cursor interface {
	Next(ctx context.Context) bool
	Event() events.StreamEvent
	Err() error
}

// eventStore is the part of events.Store the engine depends on.
type eventStore interface {
	Open(ctx context.Context, stream string, from int64) (cursor, error)
	AllStreamNames(ctx context.Context) ([]string, error)
	StreamNamesByCategory(ctx context.Context, categories []string) ([]string, error)
	HasStream(ctx context.Context, stream string) (bool, error)
	Create(ctx context.Context, stream events.Stream) error
	AppendTo(ctx context.Context, stream string, evts []events.StreamEvent) error
	Delete(ctx context.Context, stream string) error
}

type storeReader struct {
	*events.Store
}

func (r storeReader) Open(ctx context.Context, stream string, from int64) (cursor, error) {
	it, err := r.Load(ctx, stream, from, 0, metadata.Matcher{})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// rowStore is the part of CheckpointStore the projector depends on.
type rowStore interface {
	Status(ctx context.Context, name string) (Status, bool, error)
	Create(ctx context.Context, name string) error
	Acquire(ctx context.Context, name string, now, until time.Time) error
	Refresh(ctx context.Context, name string, until time.Time) error
	Load(ctx context.Context, name string) (Checkpoint, error)
	Persist(ctx context.Context, name string, position, state []byte, until time.Time) error
	Reset(ctx context.Context, name string, status Status, position, state []byte) error
	SetStatus(ctx context.Context, name string, status Status) (bool, error)
	Release(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) (bool, error)
}
