package projections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/events"
	"github.com/ripkitten-co/tabby/internal/codecs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type deps struct {
	src    eventStore
	rows   rowStore
	codec  codecs.Codec
	logger *slog.Logger
	tracer trace.Tracer
}

// Projector is a persisted projection. Its stream positions and state live
// in the projections table, and a lock row guarantees that only one process
// runs it at a time. A projector created with NewProjector can emit events;
// one created with NewReadModelProjector writes to a ReadModel instead.
//
// Run must not be called concurrently on the same Projector. Stop may be
// called from any goroutine.
type Projector[S any] struct {
	e       *engine[S]
	d       deps
	cfg     projectorConfig
	created map[string]bool

	status   Status
	counter  int
	lastLock time.Time
}

// NewProjector returns a projector whose handlers may Emit and LinkTo.
// Deleting it with emitted events removes the stream named after it.
func NewProjector[S any](m *Manager, name string, def Definition[S], opts ...ProjectorOption) (*Projector[S], error) {
	return newProjector(m.deps(name), name, def, nil, opts)
}

// NewReadModelProjector returns a projector that maintains rm. Reset and
// delete with emitted events reset and delete the read model.
func NewReadModelProjector[S any](m *Manager, name string, rm ReadModel, def Definition[S], opts ...ProjectorOption) (*Projector[S], error) {
	if rm == nil {
		return nil, fmt.Errorf("projections: new projector %s: nil read model: %w", name, tabby.ErrConfiguration)
	}
	return newProjector(m.deps(name), name, def, rm, opts)
}

func newProjector[S any](d deps, name string, def Definition[S], rm ReadModel, opts []ProjectorOption) (*Projector[S], error) {
	if name == "" {
		return nil, fmt.Errorf("projections: new projector: empty name: %w", tabby.ErrConfiguration)
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("projections: new projector %s: %w", name, err)
	}
	cfg := defaultProjectorConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("projections: new projector %s: %w", name, err)
	}

	p := &Projector[S]{
		e:       newEngine(name, def, d.src),
		d:       d,
		cfg:     cfg,
		created: map[string]bool{},
		status:  StatusIdle,
	}
	if rm != nil {
		p.e.readModel = rm
	} else {
		p.e.linkTo = p.linkTo
	}
	return p, nil
}

// Name returns the projection name.
func (p *Projector[S]) Name() string { return p.e.name }

// State returns the folded state.
func (p *Projector[S]) State() S { return p.e.state }

// ReadModel returns the read model, nil for an emitting projector.
func (p *Projector[S]) ReadModel() ReadModel { return p.e.readModel }

// Run processes events until stopped, deleted or ctx is done. With
// keepRunning false it makes a single pass. The lock is released on every
// exit path.
func (p *Projector[S]) Run(ctx context.Context, keepRunning bool) (err error) {
	ctx, span := p.d.tracer.Start(ctx, "tabby.projections.run",
		trace.WithAttributes(attribute.String("tabby.projection", p.e.name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p.e.stopped.Store(false)

	done, err := p.handleRemote(ctx)
	if err != nil || done {
		return err
	}

	if err := p.d.rows.Create(ctx, p.e.name); err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if rerr := p.release(context.WithoutCancel(ctx)); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if rm := p.e.readModel; rm != nil {
		ok, err := rm.IsInitialized(ctx)
		if err != nil {
			return fmt.Errorf("projections: %s: read model: %w", p.e.name, err)
		}
		if !ok {
			if err := rm.Init(ctx); err != nil {
				return fmt.Errorf("projections: %s: init read model: %w", p.e.name, err)
			}
		}
	}

	if err := p.e.prepare(ctx); err != nil {
		return err
	}
	if err := p.load(ctx); err != nil {
		return err
	}

	for {
		if err := p.e.pass(ctx, p.handled); err != nil {
			return err
		}
		if ctx.Err() != nil {
			if p.counter > 0 {
				if err := p.persist(context.WithoutCancel(ctx)); err != nil {
					return errors.Join(ctx.Err(), err)
				}
			}
			return ctx.Err()
		}

		if p.counter == 0 {
			if keepRunning && !p.e.stopped.Load() {
				if err := p.cfg.waker.Wait(ctx, p.cfg.sleep); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fmt.Errorf("projections: %s: wait: %w", p.e.name, err)
				}
			}
			if err := p.refresh(ctx); err != nil {
				return err
			}
		} else if err := p.persist(ctx); err != nil {
			return err
		}
		p.counter = 0

		if p.cfg.signalDispatch != nil {
			p.cfg.signalDispatch()
		}
		if _, err := p.handleRemote(ctx); err != nil {
			return err
		}
		if !keepRunning || p.e.stopped.Load() {
			return nil
		}
		if err := p.e.prepare(ctx); err != nil {
			return err
		}
	}
}

// handleRemote applies a status written by another process. done reports
// that the projector stopped or was deleted.
func (p *Projector[S]) handleRemote(ctx context.Context) (done bool, err error) {
	status, found, err := p.d.rows.Status(ctx, p.e.name)
	if err != nil {
		return false, fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	if !found {
		return false, nil
	}
	switch remoteAction(status) {
	case actionStop:
		return true, p.Stop(ctx)
	case actionDelete:
		return true, p.Delete(ctx, false)
	case actionDeleteInclEmitted:
		return true, p.Delete(ctx, true)
	case actionReset:
		return false, p.Reset(ctx)
	case actionNone:
	}
	return false, nil
}

func (p *Projector[S]) handled(ctx context.Context) error {
	p.counter++
	if p.counter == p.cfg.persistBlockSize {
		if err := p.persist(ctx); err != nil {
			return err
		}
		p.counter = 0
	}
	return nil
}

func (p *Projector[S]) acquire(ctx context.Context) error {
	now := p.cfg.now()
	if err := p.d.rows.Acquire(ctx, p.e.name, now, now.Add(p.cfg.lockTimeout)); err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	p.status = StatusRunning
	p.lastLock = now
	p.d.logger.Debug("projection lock acquired", "projection", p.e.name)
	return nil
}

func (p *Projector[S]) refresh(ctx context.Context) error {
	now := p.cfg.now()
	if p.cfg.updateLockThreshold > 0 && now.Sub(p.lastLock) < p.cfg.updateLockThreshold {
		return nil
	}
	if err := p.d.rows.Refresh(ctx, p.e.name, now.Add(p.cfg.lockTimeout)); err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	p.lastLock = now
	return nil
}

func (p *Projector[S]) release(ctx context.Context) error {
	if err := p.d.rows.Release(ctx, p.e.name); err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	p.status = StatusIdle
	p.d.logger.Debug("projection lock released", "projection", p.e.name)
	return nil
}

func (p *Projector[S]) load(ctx context.Context) error {
	cp, err := p.d.rows.Load(ctx, p.e.name)
	if err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	if !codecs.IsEmpty(cp.Position) {
		var saved map[string]int64
		if err := p.d.codec.Unmarshal(cp.Position, &saved); err != nil {
			return fmt.Errorf("projections: %s: decode position: %w", p.e.name, err)
		}
		p.e.pos.overlay(saved)
	}
	if !codecs.IsEmpty(cp.State) {
		var state S
		if err := p.d.codec.Unmarshal(cp.State, &state); err != nil {
			return fmt.Errorf("projections: %s: decode state: %w", p.e.name, err)
		}
		p.e.state = state
	}
	return nil
}

func (p *Projector[S]) encode() (position, state []byte, err error) {
	position, err = p.d.codec.Marshal(p.e.pos.snapshot())
	if err != nil {
		return nil, nil, fmt.Errorf("projections: %s: encode position: %w", p.e.name, err)
	}
	state, err = p.d.codec.Marshal(p.e.state)
	if err != nil {
		return nil, nil, fmt.Errorf("projections: %s: encode state: %w", p.e.name, err)
	}
	return position, state, nil
}

func (p *Projector[S]) persist(ctx context.Context) error {
	if rm := p.e.readModel; rm != nil {
		if err := rm.Persist(ctx); err != nil {
			return fmt.Errorf("projections: %s: persist read model: %w", p.e.name, err)
		}
	}
	position, state, err := p.encode()
	if err != nil {
		return err
	}
	now := p.cfg.now()
	if err := p.d.rows.Persist(ctx, p.e.name, position, state, now.Add(p.cfg.lockTimeout)); err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	p.lastLock = now
	p.d.logger.Debug("projection persisted", "projection", p.e.name, "events", p.counter)
	return nil
}

// Stop ends Run after the current event and marks the projection idle.
func (p *Projector[S]) Stop(ctx context.Context) error {
	p.e.stop()
	if _, err := p.d.rows.SetStatus(ctx, p.e.name, StatusIdle); err != nil {
		return fmt.Errorf("projections: %s: stop: %w", p.e.name, err)
	}
	p.d.logger.Info("projection stopped", "projection", p.e.name)
	return nil
}

// Reset forgets positions and state, resets the read model or deletes the
// emitted stream, and stores the cleared checkpoint.
func (p *Projector[S]) Reset(ctx context.Context) error {
	p.e.reset()
	p.counter = 0

	if rm := p.e.readModel; rm != nil {
		if err := rm.Reset(ctx); err != nil {
			return fmt.Errorf("projections: %s: reset read model: %w", p.e.name, err)
		}
	} else if err := p.deleteEmitted(ctx); err != nil {
		return err
	}

	position, state, err := p.encode()
	if err != nil {
		return err
	}
	if err := p.d.rows.Reset(ctx, p.e.name, p.status, position, state); err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	p.d.logger.Info("projection reset", "projection", p.e.name)
	return nil
}

// Delete removes the projection row and stops Run. With inclEmitted the
// read model or the emitted stream is deleted too.
func (p *Projector[S]) Delete(ctx context.Context, inclEmitted bool) error {
	if _, err := p.d.rows.Delete(ctx, p.e.name); err != nil {
		return fmt.Errorf("projections: %s: %w", p.e.name, err)
	}
	if inclEmitted {
		if rm := p.e.readModel; rm != nil {
			if err := rm.Delete(ctx); err != nil {
				return fmt.Errorf("projections: %s: delete read model: %w", p.e.name, err)
			}
		} else if err := p.deleteEmitted(ctx); err != nil {
			return err
		}
	}
	p.e.stop()
	p.e.reset()
	p.counter = 0
	p.d.logger.Info("projection deleted", "projection", p.e.name, "emitted", inclEmitted)
	return nil
}

func (p *Projector[S]) deleteEmitted(ctx context.Context) error {
	delete(p.created, p.e.name)
	err := p.d.src.Delete(ctx, p.e.name)
	if err != nil && !errors.Is(err, tabby.ErrStreamNotFound) {
		return fmt.Errorf("projections: %s: delete emitted stream: %w", p.e.name, err)
	}
	return nil
}

func (p *Projector[S]) linkTo(ctx context.Context, stream string, evt events.StreamEvent) error {
	if !p.created[stream] {
		ok, err := p.d.src.HasStream(ctx, stream)
		if err != nil {
			return fmt.Errorf("projections: %s: link to %s: %w", p.e.name, stream, err)
		}
		if !ok {
			if err := p.d.src.Create(ctx, events.Stream{Name: stream}); err != nil && !errors.Is(err, tabby.ErrStreamExists) {
				return fmt.Errorf("projections: %s: create %s: %w", p.e.name, stream, err)
			}
		}
		p.created[stream] = true
	}
	if err := p.d.src.AppendTo(ctx, stream, []events.StreamEvent{evt}); err != nil {
		return fmt.Errorf("projections: %s: link to %s: %w", p.e.name, stream, err)
	}
	return nil
}
