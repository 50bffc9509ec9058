package tabby

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ripkitten-co/tabby/internal/codecs"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/schema"
	"go.opentelemetry.io/otel/trace"
)

// Session wraps a database transaction spanning several event store calls.
// Appends made through a Session-backed event store commit or roll back
// together. Call Commit to persist, or Close/Rollback to discard.
type Session struct {
	tx     sqldb.Tx
	be     backend
	closed bool
}

// Session begins a new transaction and returns a Session.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	tx, err := s.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tabby: begin session: %w", err)
	}

	be := s.be
	be.exec = sqldb.Tx{Tx: tx}
	return &Session{tx: sqldb.Tx{Tx: tx}, be: be}, nil
}

func (s *Session) DBExecutor() sqldb.Executor         { return s.be.exec }
func (s *Session) Dialect() sqldb.Dialect             { return s.be.dialect }
func (s *Session) JSONCodec() codecs.Codec            { return s.be.codec }
func (s *Session) SchemaBootstrap() *schema.Bootstrap { return s.be.schema }
func (s *Session) Logger() *slog.Logger               { return s.be.logger }
func (s *Session) Tracer() trace.Tracer               { return s.be.tracer }
func (s *Session) Settings() Settings                 { return s.be.settings }

// Commit persists all operations in this session atomically.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("tabby: commit: %w", ErrSessionClosed)
	}
	s.closed = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("tabby: commit session: %w", err)
	}
	return nil
}

// Rollback discards all operations. Safe to call multiple times.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("tabby: rollback session: %w", err)
	}
	return nil
}

// Close rolls back if not already committed. Safe to defer.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	return s.Rollback(ctx)
}
