package types

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store lookups when no row matches.
var ErrNotFound = errors.New("not found")

// ValidationError is returned when an entity fails invariant checks.
// Validation failures are not retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnknownEventTypeError is returned when the sync engine encounters an
// event type with no handler. This is a programming error: the event type
// set is closed, so the engine fails the batch instead of retrying.
type UnknownEventTypeError struct {
	Type EventType
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("no handler for event type %q", e.Type)
}

// MissingMappingError is returned by handlers that require an existing
// remote link, e.g. an update for a task that was never created remotely.
type MissingMappingError struct {
	TaskID string
	Remote string // "github" or "bitable"
}

func (e *MissingMappingError) Error() string {
	return fmt.Sprintf("task %s has no %s mapping", e.TaskID, e.Remote)
}
