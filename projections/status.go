package projections

import (
	"fmt"

	"github.com/ripkitten-co/tabby"
)

// Status is the value of a projection row's status column.
type Status string

const (
	StatusIdle                      Status = "idle"
	StatusRunning                   Status = "running"
	StatusStopping                  Status = "stopping"
	StatusResetting                 Status = "resetting"
	StatusDeleting                  Status = "deleting"
	StatusDeletingInclEmittedEvents Status = "deleting incl emitted events"
)

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusIdle, StatusRunning, StatusStopping, StatusResetting,
		StatusDeleting, StatusDeletingInclEmittedEvents:
		return st, nil
	}
	return "", fmt.Errorf("projections: unknown status %q: %w", s, tabby.ErrConfiguration)
}

func (s Status) String() string { return string(s) }

type action int

const (
	actionNone action = iota
	actionStop
	actionReset
	actionDelete
	actionDeleteInclEmitted
)

// remoteAction maps a status written by another process to the work the
// running projector must do before its next pass.
func remoteAction(s Status) action {
	switch s {
	case StatusStopping:
		return actionStop
	case StatusResetting:
		return actionReset
	case StatusDeleting:
		return actionDelete
	case StatusDeletingInclEmittedEvents:
		return actionDeleteInclEmitted
	case StatusIdle, StatusRunning:
		return actionNone
	}
	return actionNone
}
