package projections

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ripkitten-co/tabby"
)

// Runner is a long-running projection. Projector implements it.
type Runner interface {
	Name() string
	Run(ctx context.Context, keepRunning bool) error
}

type DaemonOption func(*daemonConfig)

type daemonConfig struct {
	retryInterval time.Duration
	logger        *slog.Logger
}

// WithRetryInterval sets how long a runner waits before retrying when
// another process holds its lock.
func WithRetryInterval(d time.Duration) DaemonOption {
	return func(c *daemonConfig) { c.retryInterval = d }
}

// WithDaemonLogger sets the logger for runner failures.
func WithDaemonLogger(l *slog.Logger) DaemonOption {
	return func(c *daemonConfig) { c.logger = l }
}

// Daemon runs projections concurrently, one goroutine each. A runner whose
// lock is held elsewhere stands by and retries; any other failure ends that
// runner only.
type Daemon struct {
	config  daemonConfig
	runners []Runner
}

func NewDaemon(opts ...DaemonOption) *Daemon {
	cfg := daemonConfig{
		retryInterval: 5 * time.Second,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Daemon{config: cfg}
}

func (d *Daemon) Add(r Runner) {
	d.runners = append(d.runners, r)
}

// Run blocks until every runner has returned. Cancelling ctx stops them all.
// The returned error joins the failures of all runners.
func (d *Daemon) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, r := range d.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.runOne(ctx, r); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (d *Daemon) runOne(ctx context.Context, r Runner) error {
	for {
		err := r.Run(ctx, true)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, tabby.ErrProjectionRunning):
			d.config.logger.Debug("projection locked elsewhere", "projection", r.Name())
		case err != nil:
			d.config.logger.Error("run projection", "projection", r.Name(), "error", err)
			return err
		default:
			d.config.logger.Info("projection finished", "projection", r.Name())
			return nil
		}

		t := time.NewTimer(d.config.retryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
