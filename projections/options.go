package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/ripkitten-co/tabby"
)

const (
	DefaultLockTimeout      = time.Second
	DefaultPersistBlockSize = 1000
	DefaultSleep            = 100 * time.Millisecond
)

// Waker blocks an idle projector until new events may be available or the
// timeout passes.
type Waker interface {
	Wait(ctx context.Context, timeout time.Duration) error
}

type sleeper struct{}

func (sleeper) Wait(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*projectorConfig)

type projectorConfig struct {
	lockTimeout         time.Duration
	updateLockThreshold time.Duration
	persistBlockSize    int
	sleep               time.Duration
	signalDispatch      func()
	waker               Waker
	now                 func() time.Time
}

func defaultProjectorConfig() projectorConfig {
	return projectorConfig{
		lockTimeout:      DefaultLockTimeout,
		persistBlockSize: DefaultPersistBlockSize,
		sleep:            DefaultSleep,
		waker:            sleeper{},
		now:              time.Now,
	}
}

func (c projectorConfig) validate() error {
	switch {
	case c.lockTimeout <= 0:
		return fmt.Errorf("projections: lock timeout must be positive: %w", tabby.ErrConfiguration)
	case c.updateLockThreshold < 0:
		return fmt.Errorf("projections: negative update lock threshold: %w", tabby.ErrConfiguration)
	case c.persistBlockSize <= 0:
		return fmt.Errorf("projections: persist block size must be positive: %w", tabby.ErrConfiguration)
	case c.sleep < 0:
		return fmt.Errorf("projections: negative sleep: %w", tabby.ErrConfiguration)
	case c.waker == nil:
		return fmt.Errorf("projections: nil waker: %w", tabby.ErrConfiguration)
	}
	return nil
}

// WithLockTimeout sets how long a lock stays valid without being refreshed.
func WithLockTimeout(d time.Duration) ProjectorOption {
	return func(c *projectorConfig) { c.lockTimeout = d }
}

// WithUpdateLockThreshold skips idle lock refreshes until the lock was last
// written at least d ago.
func WithUpdateLockThreshold(d time.Duration) ProjectorOption {
	return func(c *projectorConfig) { c.updateLockThreshold = d }
}

// WithPersistBlockSize sets after how many handled events the projector
// checkpoints within a pass.
func WithPersistBlockSize(n int) ProjectorOption {
	return func(c *projectorConfig) { c.persistBlockSize = n }
}

// WithSleep sets the idle wait between passes that found no events.
func WithSleep(d time.Duration) ProjectorOption {
	return func(c *projectorConfig) { c.sleep = d }
}

// WithSignalDispatch installs a hook run once per pass, after checkpointing.
func WithSignalDispatch(fn func()) ProjectorOption {
	return func(c *projectorConfig) { c.signalDispatch = fn }
}

// WithWakeup replaces the idle sleep, e.g. with a Listener.
func WithWakeup(w Waker) ProjectorOption {
	return func(c *projectorConfig) { c.waker = w }
}
