// Package policy classifies how stale an open workout session is.
//
// Evaluation is pure: it reads a session and a wall-clock instant and
// never touches storage.
package policy

import (
	"fmt"
	"time"

	"github.com/claude/fitforge/internal/models"
)

// Default thresholds, in minutes.
const (
	DefaultWarningThreshold     = 60
	DefaultAutoAbandonThreshold = 240
)

// Policy holds the staleness thresholds applied to every user.
type Policy struct {
	WarningThreshold     int  `json:"warning_threshold" yaml:"warning_threshold"`
	AutoAbandonThreshold int  `json:"auto_abandon_threshold" yaml:"auto_abandon_threshold"`
	EnableAutoAbandon    bool `json:"enable_auto_abandon" yaml:"enable_auto_abandon"`
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		WarningThreshold:     DefaultWarningThreshold,
		AutoAbandonThreshold: DefaultAutoAbandonThreshold,
		EnableAutoAbandon:    true,
	}
}

// Validate rejects thresholds that would make the buckets overlap or vanish.
func (p Policy) Validate() error {
	if p.WarningThreshold <= 0 {
		return fmt.Errorf("warning_threshold must be > 0")
	}
	if p.AutoAbandonThreshold <= 0 {
		return fmt.Errorf("auto_abandon_threshold must be > 0")
	}
	if p.WarningThreshold >= p.AutoAbandonThreshold {
		return fmt.Errorf("warning_threshold (%d) must be below auto_abandon_threshold (%d)",
			p.WarningThreshold, p.AutoAbandonThreshold)
	}
	return nil
}

// WarningLevel buckets idle time.
type WarningLevel string

const (
	LevelNone     WarningLevel = "none"
	LevelWarning  WarningLevel = "warning"
	LevelCritical WarningLevel = "critical"
)

// IdleSource names the timestamp idle time was measured from.
type IdleSource string

const (
	FromLastActivity IdleSource = "last_activity"
	FromStartTime    IdleSource = "start_time"
)

// Staleness describes how long a session has been idle and what the
// policy says about it.
type Staleness struct {
	SessionID         string       `json:"session_id"`
	UserID            int          `json:"user_id"`
	WorkoutType       string       `json:"workout_type"`
	StartTime         time.Time    `json:"start_time"`
	LastActivity      time.Time    `json:"last_activity"`
	IdleSource        IdleSource   `json:"idle_source"`
	IdleMinutes       int          `json:"idle_minutes"`
	ExerciseCount     int          `json:"exercise_count"`
	CompletedSets     int          `json:"completed_sets"`
	WarningLevel      WarningLevel `json:"warning_level"`
	NeedsUserDecision bool         `json:"needs_user_decision"`
	ShouldAutoAbandon bool         `json:"should_auto_abandon"`
}

// IdleMinutes returns whole minutes elapsed between ref and now.
// A reference in the future counts as zero idle time.
func IdleMinutes(ref, now time.Time) int {
	d := now.Sub(ref)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Evaluate classifies s at now.
//
// Idle time is measured from LastActivity. Records without one (imported
// from older files) fall back to StartTime, and the descriptor says so.
func (p Policy) Evaluate(s *models.WorkoutSession, now time.Time) (Staleness, error) {
	if s == nil {
		return Staleness{}, models.NewValidationError("session", "is required")
	}
	if s.StartTime.IsZero() {
		return Staleness{}, models.NewValidationError("start_time", "is missing or invalid")
	}
	if now.IsZero() {
		return Staleness{}, models.NewValidationError("now", "is missing or invalid")
	}

	ref, src := s.StartTime, FromStartTime
	if s.LastActivity != nil && !s.LastActivity.IsZero() {
		ref, src = *s.LastActivity, FromLastActivity
	}

	idle := IdleMinutes(ref, now)
	st := Staleness{
		SessionID:     s.ID,
		UserID:        s.UserID,
		WorkoutType:   s.WorkoutType,
		StartTime:     s.StartTime,
		LastActivity:  ref,
		IdleSource:    src,
		IdleMinutes:   idle,
		ExerciseCount: len(s.Exercises),
		CompletedSets: s.CompletedSets(),
		WarningLevel:  LevelNone,
	}

	switch {
	case idle > p.AutoAbandonThreshold:
		st.ShouldAutoAbandon = true
		st.WarningLevel = LevelCritical
	case idle > p.WarningThreshold:
		st.NeedsUserDecision = true
		st.WarningLevel = LevelWarning
	}
	return st, nil
}
