package projections

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/events"
	"github.com/ripkitten-co/tabby/internal/codecs"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeStore struct {
	mu      sync.Mutex
	order   []string
	streams map[string][]events.StreamEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{streams: map[string][]events.StreamEvent{}}
}

func (f *fakeStore) add(stream string, names ...string) {
	evts := make([]events.StreamEvent, len(names))
	for i, n := range names {
		evts[i] = events.NewEvent(n, []byte(`{}`))
	}
	f.mu.Lock()
	if _, ok := f.streams[stream]; !ok {
		f.order = append(f.order, stream)
		f.streams[stream] = nil
	}
	f.mu.Unlock()
	if err := f.AppendTo(context.Background(), stream, evts); err != nil {
		panic(err)
	}
}

func (f *fakeStore) appendNamed(stream, name, payload string) error {
	f.mu.Lock()
	if _, ok := f.streams[stream]; !ok {
		f.order = append(f.order, stream)
		f.streams[stream] = nil
	}
	f.mu.Unlock()
	return f.AppendTo(context.Background(), stream, []events.StreamEvent{events.NewEvent(name, []byte(payload))})
}

func (f *fakeStore) stream(name string) []events.StreamEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.StreamEvent(nil), f.streams[name]...)
}

func (f *fakeStore) Open(_ context.Context, stream string, from int64) (cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evts, ok := f.streams[stream]
	if !ok {
		return nil, fmt.Errorf("fake: %s: %w", stream, tabby.ErrStreamNotFound)
	}
	var out []events.StreamEvent
	for _, e := range evts {
		if e.No >= from {
			out = append(out, e)
		}
	}
	return &sliceCursor{evts: out, idx: -1}, nil
}

func (f *fakeStore) AllStreamNames(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.order {
		if !strings.HasPrefix(n, "$") {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) StreamNamesByCategory(_ context.Context, categories []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.order {
		for _, c := range categories {
			if events.Category(n) == c {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) HasStream(_ context.Context, stream string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.streams[stream]
	return ok, nil
}

func (f *fakeStore) Create(ctx context.Context, s events.Stream) error {
	f.mu.Lock()
	if _, ok := f.streams[s.Name]; ok {
		f.mu.Unlock()
		return fmt.Errorf("fake: %s: %w", s.Name, tabby.ErrStreamExists)
	}
	f.order = append(f.order, s.Name)
	f.streams[s.Name] = nil
	f.mu.Unlock()
	return f.AppendTo(ctx, s.Name, s.Events)
}

func (f *fakeStore) AppendTo(_ context.Context, stream string, evts []events.StreamEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.streams[stream]
	if !ok {
		return fmt.Errorf("fake: %s: %w", stream, tabby.ErrStreamNotFound)
	}
	for _, e := range evts {
		e.No = int64(len(cur) + 1)
		cur = append(cur, e)
	}
	f.streams[stream] = cur
	return nil
}

func (f *fakeStore) Delete(_ context.Context, stream string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[stream]; !ok {
		return fmt.Errorf("fake: %s: %w", stream, tabby.ErrStreamNotFound)
	}
	delete(f.streams, stream)
	for i, n := range f.order {
		if n == stream {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

type sliceCursor struct {
	evts []events.StreamEvent
	idx  int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.idx+1 >= len(c.evts) {
		return false
	}
	c.idx++
	return true
}

func (c *sliceCursor) Event() events.StreamEvent { return c.evts[c.idx] }

func (c *sliceCursor) Err() error { return nil }

type fakeRow struct {
	position    []byte
	state       []byte
	status      Status
	lockedUntil *time.Time
}

type fakeRows struct {
	mu       sync.Mutex
	rows     map[string]*fakeRow
	persists int
}

func newFakeRows() *fakeRows {
	return &fakeRows{rows: map[string]*fakeRow{}}
}

func (f *fakeRows) get(name string) (fakeRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[name]
	if !ok {
		return fakeRow{}, false
	}
	return *r, true
}

func (f *fakeRows) set(name string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[name].status = status
}

func (f *fakeRows) Status(_ context.Context, name string) (Status, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[name]
	if !ok {
		return "", false, nil
	}
	return r.status, true, nil
}

func (f *fakeRows) Create(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[name]; !ok {
		f.rows[name] = &fakeRow{position: []byte("{}"), state: []byte("{}"), status: StatusIdle}
	}
	return nil
}

func (f *fakeRows) Acquire(_ context.Context, name string, now, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[name]
	if !ok || (r.lockedUntil != nil && !r.lockedUntil.Before(now)) {
		return tabby.ErrProjectionRunning
	}
	r.lockedUntil = &until
	r.status = StatusRunning
	return nil
}

func (f *fakeRows) Refresh(_ context.Context, name string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[name]
	if !ok {
		return tabby.ErrProjectionNotFound
	}
	r.lockedUntil = &until
	return nil
}

func (f *fakeRows) Load(_ context.Context, name string) (Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[name]
	if !ok {
		return Checkpoint{}, tabby.ErrProjectionNotFound
	}
	return Checkpoint{Position: r.position, State: r.state, Status: r.status, LockedUntil: r.lockedUntil}, nil
}

func (f *fakeRows) Persist(_ context.Context, name string, position, state []byte, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persists++
	if r, ok := f.rows[name]; ok {
		r.position, r.state, r.lockedUntil = position, state, &until
	}
	return nil
}

func (f *fakeRows) Reset(_ context.Context, name string, status Status, position, state []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[name]; ok {
		r.position, r.state, r.status = position, state, status
	}
	return nil
}

func (f *fakeRows) SetStatus(_ context.Context, name string, status Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[name]
	if ok {
		r.status = status
	}
	return ok, nil
}

func (f *fakeRows) Release(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[name]; ok {
		r.status = StatusIdle
		r.lockedUntil = nil
	}
	return nil
}

func (f *fakeRows) Delete(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[name]
	delete(f.rows, name)
	return ok, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func withClock(c *fakeClock) ProjectorOption {
	return func(cfg *projectorConfig) { cfg.now = c.now }
}

type fakeReadModel struct {
	initialized bool
	inits       int
	resets      int
	deletes     int
	persists    int
	stack       []string
	rows        []string
}

func (m *fakeReadModel) Init(context.Context) error {
	m.initialized = true
	m.inits++
	return nil
}

func (m *fakeReadModel) IsInitialized(context.Context) (bool, error) { return m.initialized, nil }

func (m *fakeReadModel) Reset(context.Context) error {
	m.resets++
	m.rows = nil
	return nil
}

func (m *fakeReadModel) Delete(context.Context) error {
	m.deletes++
	m.initialized = false
	m.rows = nil
	return nil
}

func (m *fakeReadModel) Stack(op string, args ...any) {
	m.stack = append(m.stack, op+" "+fmt.Sprint(args...))
}

func (m *fakeReadModel) Persist(context.Context) error {
	m.persists++
	m.rows = append(m.rows, m.stack...)
	m.stack = nil
	return nil
}

func testDeps(src *fakeStore, rows *fakeRows) deps {
	return deps{
		src:    src,
		rows:   rows,
		codec:  codecs.NewJSONIter(),
		logger: slog.New(slog.DiscardHandler),
		tracer: noop.NewTracerProvider().Tracer("test"),
	}
}
