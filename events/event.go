package events

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/ripkitten-co/tabby/strategy"
)

// PositionKey is the metadata key carrying an event's position in its stream.
// Loads fill it in unless the stored metadata already has it.
const PositionKey = "_position"

// StreamEvent is a single immutable event record.
type StreamEvent struct {
	ID        uuid.UUID
	Name      string
	Payload   []byte
	Metadata  map[string]any
	CreatedAt time.Time
	// No is the stream position, set when the event is loaded.
	No int64
}

// Stream is a named, ordered sequence of events. Metadata is stored once in
// the registry when the stream is created.
type Stream struct {
	Name     string
	Events   []StreamEvent
	Metadata map[string]any
}

// NewEvent returns an event with a fresh id and the current UTC time.
func NewEvent(name string, payload []byte) StreamEvent {
	return StreamEvent{
		ID:        uuid.New(),
		Name:      name,
		Payload:   payload,
		Metadata:  map[string]any{},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// WithMetadata returns a copy of e with key set.
func (e StreamEvent) WithMetadata(key string, value any) StreamEvent {
	md := make(map[string]any, len(e.Metadata)+1)
	maps.Copy(md, e.Metadata)
	md[key] = value
	e.Metadata = md
	return e
}

// WithAggregate returns a copy of e carrying the aggregate identity used by
// identity-generating strategies.
func (e StreamEvent) WithAggregate(aggregateType, aggregateID string, version int) StreamEvent {
	return e.WithMetadata(strategy.AggregateTypeKey, aggregateType).
		WithMetadata(strategy.AggregateIDKey, aggregateID).
		WithMetadata(strategy.AggregateVersionKey, version)
}

// Version returns the aggregate version from metadata, if present.
func (e StreamEvent) Version() (int64, bool) {
	v, ok := e.Metadata[strategy.AggregateVersionKey]
	if !ok {
		return 0, false
	}
	return strategy.AsInt64(v)
}

// Category is the part of a stream name before the first dash, or "" when
// the name has none.
func Category(stream string) string {
	for i := 0; i < len(stream); i++ {
		if stream[i] == '-' {
			return stream[:i]
		}
	}
	return ""
}
