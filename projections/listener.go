package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/events"
)

// Listener wakes idle projectors as soon as an append is notified on the
// events channel. It only works with stores opened by tabby.New on
// PostgreSQL. Notifications sent between two waits are not buffered, so a
// wake-up can be late by at most one timeout.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
}

// NewListener creates a listener on the store's pgx pool.
func NewListener(s *tabby.Store) (*Listener, error) {
	pool := s.PgxPool()
	if pool == nil {
		return nil, fmt.Errorf("listener: store has no pgx pool: %w", tabby.ErrConfiguration)
	}
	return &Listener{pool: pool, channel: events.NotifyChannel}, nil
}

// Wait blocks until a notification arrives, the timeout passes or ctx is
// cancelled. Only cancellation of ctx is reported as an error.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := l.pool.Acquire(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if waitCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("listener: acquire conn: %w", err)
	}
	defer conn.Release()

	channel := pgx.Identifier{l.channel}.Sanitize()
	if _, err := conn.Exec(waitCtx, "LISTEN "+channel); err != nil {
		if waitCtx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("listener: listen: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+channel)
	}()

	if _, err := conn.Conn().WaitForNotification(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if waitCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("listener: wait: %w", err)
	}
	return nil
}
