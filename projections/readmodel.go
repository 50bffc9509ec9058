package projections

import "context"

// ReadModel is the sink of a read model projector. Handlers queue changes
// with Stack; the projector calls Persist before it checkpoints.
type ReadModel interface {
	Init(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
	Delete(ctx context.Context) error
	Stack(operation string, args ...any)
	Persist(ctx context.Context) error
}
