package models

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a workout session.
type Status string

// Canonical session statuses. Completed, abandoned and cancelled are terminal.
const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
	StatusCancelled  Status = "cancelled"
)

// statusAliases maps lowercased status spellings found in older session
// files to their canonical status.
var statusAliases = map[string]Status{
	"in_progress": StatusInProgress,
	"in-progress": StatusInProgress,
	"inprogress":  StatusInProgress,
	"active":      StatusInProgress,
	"started":     StatusInProgress,

	"paused": StatusPaused,

	"completed": StatusCompleted,
	"complete":  StatusCompleted,
	"finished":  StatusCompleted,

	"abandoned": StatusAbandoned,

	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
}

// NormalizeStatus returns the canonical status for s.
// The second return value is false when s is not a known spelling.
func NormalizeStatus(s string) (Status, bool) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// ParseStatus is NormalizeStatus with an error for unknown values.
func ParseStatus(s string) (Status, error) {
	st, ok := NormalizeStatus(s)
	if !ok {
		return "", fmt.Errorf("unknown session status %q", s)
	}
	return st, nil
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusPaused, StatusCompleted, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// UnmarshalJSON accepts legacy spellings so older session files decode
// into canonical statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
