package events

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/codecs"
	"github.com/ripkitten-co/tabby/internal/filter"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/metadata"
	"github.com/ripkitten-co/tabby/strategy"
)

// Iterator is a one-pass cursor over a stream. It fetches rows in batches of
// the store's load batch size and holds no connection between batches.
type Iterator struct {
	es      *Store
	stream  string
	from    string
	where   sq.Sqlizer
	reverse bool

	// bound is the next position to read from, inclusive; 0 means unbounded
	// for reverse reads.
	bound     int64
	remaining int
	exhausted bool

	buf []StreamEvent
	idx int
	cur StreamEvent
	err error
}

// Load returns events with position >= from in ascending order. count <= 0
// reads to the end. The matcher's zero value matches everything.
func (es *Store) Load(ctx context.Context, stream string, from int64, count int, m metadata.Matcher) (*Iterator, error) {
	return es.load(ctx, stream, from, count, m, false)
}

// LoadReverse returns events with position <= from in descending order.
// from <= 0 starts at the end of the stream.
func (es *Store) LoadReverse(ctx context.Context, stream string, from int64, count int, m metadata.Matcher) (*Iterator, error) {
	return es.load(ctx, stream, from, count, m, true)
}

func (es *Store) load(ctx context.Context, stream string, from int64, count int, m metadata.Matcher, reverse bool) (it *Iterator, err error) {
	ctx, span := es.startSpan(ctx, "load", stream)
	defer func() { endSpan(span, err) }()

	opts := filter.Options{AllowProperties: true}
	if g, ok := es.strategy.(strategy.GeneratedColumns); ok {
		opts.Generated = g.GeneratedColumns()
	}
	compiled, err := filter.Compile(es.dialect, m, opts)
	if err != nil {
		return nil, fmt.Errorf("events: load %s: %w", stream, err)
	}

	source := es.table(stream)
	if h, ok := es.strategy.(strategy.IndexHinter); ok && compiled.UsesGenerated && h.IndexName() != "" {
		source += " USE INDEX(" + es.dialect.Quote(h.IndexName()) + ")"
	}

	if !reverse && from < 1 {
		from = 1
	}
	remaining := count
	if remaining <= 0 {
		remaining = -1
	}

	it = &Iterator{
		es:        es,
		stream:    stream,
		from:      source,
		where:     compiled.Where,
		reverse:   reverse,
		bound:     from,
		remaining: remaining,
	}
	if err := it.fetch(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

// Next advances to the next event, fetching a new batch when needed.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil || it.remaining == 0 {
		return false
	}
	if it.idx >= len(it.buf) {
		if it.exhausted {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.buf) == 0 {
			return false
		}
	}
	it.cur = it.buf[it.idx]
	it.idx++
	if it.remaining > 0 {
		it.remaining--
	}
	return true
}

// Event returns the current event.
func (it *Iterator) Event() StreamEvent { return it.cur }

// Err returns the first error hit while fetching.
func (it *Iterator) Err() error { return it.err }

// Collect drains the iterator.
func (it *Iterator) Collect(ctx context.Context) ([]StreamEvent, error) {
	var out []StreamEvent
	for it.Next(ctx) {
		out = append(out, it.Event())
	}
	return out, it.Err()
}

func (it *Iterator) fetch(ctx context.Context) error {
	es := it.es
	limit := es.settings.LoadBatchSize
	if it.remaining > 0 && it.remaining < limit {
		limit = it.remaining
	}

	no := es.dialect.Quote("no")
	builder := es.dialect.Builder().
		Select(no, "event_id", "event_name", "payload", "metadata", "created_at").
		From(it.from).
		Limit(uint64(limit))
	if it.where != nil {
		builder = builder.Where(it.where)
	}
	if it.reverse {
		if it.bound > 0 {
			builder = builder.Where(sq.LtOrEq{no: it.bound})
		}
		builder = builder.OrderBy(no + " DESC")
	} else {
		builder = builder.Where(sq.GtOrEq{no: it.bound})
		builder = builder.OrderBy(no + " ASC")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("events: load %s: build sql: %w", it.stream, err)
	}

	rows, err := es.exec.QueryContext(ctx, query, args...)
	if err != nil {
		if sqldb.IsUndefinedTable(err) {
			return fmt.Errorf("events: load %s: %w", it.stream, tabby.ErrStreamNotFound)
		}
		return fmt.Errorf("events: load %s: %w", it.stream, tabby.NewRuntimeError("load", err))
	}
	defer rows.Close()

	batch := make([]StreamEvent, 0, limit)
	for rows.Next() {
		var (
			e       StreamEvent
			id      string
			payload []byte
			md      []byte
			created time.Time
		)
		if err := rows.Scan(&e.No, &id, &e.Name, &payload, &md, &created); err != nil {
			return fmt.Errorf("events: load %s: scan: %w", it.stream, err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return fmt.Errorf("events: load %s: event id %q: %w", it.stream, id, err)
		}
		if e.Metadata, err = codecs.Object(es.codec, md); err != nil {
			return fmt.Errorf("events: load %s: decode metadata of %s: %w", it.stream, id, err)
		}
		if _, ok := e.Metadata[PositionKey]; !ok {
			e.Metadata[PositionKey] = e.No
		}
		e.Payload = payload
		e.CreatedAt = created.UTC()
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("events: load %s: %w", it.stream, err)
	}

	it.buf, it.idx = batch, 0
	if len(batch) < limit {
		it.exhausted = true
	}
	if n := len(batch); n > 0 {
		if it.reverse {
			it.bound = batch[n-1].No - 1
			if it.bound < 1 {
				it.exhausted = true
			}
		} else {
			it.bound = batch[n-1].No + 1
		}
	}
	return nil
}
