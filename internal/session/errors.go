package session

import (
	"errors"

	"github.com/claude/fitforge/internal/conflict"
)

var (
	// ErrInvalidTransition is returned when a mutation is not allowed from
	// the session's current status.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrResolverUnavailable is returned when the start check could not run.
	// Callers must not assume the user has no open session.
	ErrResolverUnavailable = errors.New("conflict resolver unavailable")
)

// ConflictError is returned by Start when the user must decide what to do
// with an open session first.
type ConflictError struct {
	Decision conflict.Decision
}

func (e *ConflictError) Error() string {
	if e.Decision.Reason != "" {
		return "active session conflict: " + e.Decision.Reason
	}
	return "active session conflict"
}
