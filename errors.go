package tabby

import (
	"errors"
	"fmt"

	"github.com/ripkitten-co/tabby/internal/sqldb"
)

var (
	// ErrConfiguration is returned for invalid setup: bad options, malformed
	// projection definitions, unknown filter fields or missing identity metadata.
	ErrConfiguration = errors.New("configuration error")

	// ErrStreamNotFound is returned when a stream has no registry row or table.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamExists is returned when creating a stream that is already registered.
	ErrStreamExists = errors.New("stream already exists")

	// ErrConcurrencyConflict is returned when an append collides with an
	// existing event identity.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrRegistryNotProvisioned is returned when the event streams table is missing.
	ErrRegistryNotProvisioned = errors.New("event streams table is not set up")

	// ErrProjectionTableNotProvisioned is returned when the projections table is missing.
	ErrProjectionTableNotProvisioned = errors.New("projections table is not set up")

	// ErrProjectionRunning is returned when another process holds the projection lock.
	ErrProjectionRunning = errors.New("another projection process is already running")

	// ErrProjectionNotFound is returned when a projection has no row.
	ErrProjectionNotFound = errors.New("projection not found")

	// ErrSessionClosed is returned when using a committed or rolled back session.
	ErrSessionClosed = errors.New("session closed")
)

// RuntimeError carries an unclassified driver failure with its vendor code.
type RuntimeError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

// NewRuntimeError wraps err, extracting the vendor code and message.
func NewRuntimeError(op string, err error) *RuntimeError {
	code, msg := sqldb.Code(err)
	if msg == "" {
		msg = err.Error()
	}
	return &RuntimeError{Op: op, Code: code, Message: msg, Err: err}
}

func (e *RuntimeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: error %s: %s", e.Op, e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
