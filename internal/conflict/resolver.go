// Package conflict decides what should happen when a user asks to start a
// workout while an older one may still be open. It never mutates state.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/policy"
)

// Action is the outcome of a start request check.
type Action string

const (
	// ActionNone means no open session blocks the start.
	ActionNone Action = "none"
	// ActionAutoAbandon means the open session is stale enough to be closed automatically.
	ActionAutoAbandon Action = "auto_abandon"
	// ActionUserDecision means the user must choose between resuming and abandoning.
	ActionUserDecision Action = "user_decision_required"
	// ActionUnknown means the check could not be completed; callers must not start.
	ActionUnknown Action = "unknown"
)

// Decision is the resolver's answer for one start request.
type Decision struct {
	Action               Action                 `json:"action"`
	Reason               string                 `json:"reason,omitempty"`
	Hints                []string               `json:"hints,omitempty"`
	Session              *models.WorkoutSession `json:"session,omitempty"`
	Staleness            *policy.Staleness      `json:"staleness,omitempty"`
	RequestedWorkoutType string                 `json:"requested_workout_type,omitempty"`
}

// SessionReader is the read side of the session store the resolver needs.
type SessionReader interface {
	ActiveSessions(ctx context.Context, userID int) ([]models.WorkoutSession, error)
}

// Resolver evaluates a user's open session against a policy.
type Resolver struct {
	store  SessionReader
	policy func() policy.Policy
	now    func() time.Time
	logger *slog.Logger
}

// NewResolver creates a Resolver. policyFn is called on every Resolve so
// policy changes apply immediately.
func NewResolver(store SessionReader, policyFn func() policy.Policy, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		policy: policyFn,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source. Used by tests.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve checks whether userID may start a workoutType session now.
//
// A store failure yields ActionUnknown together with the error.
func (r *Resolver) Resolve(ctx context.Context, userID int, workoutType string) (Decision, error) {
	d := Decision{Action: ActionNone, RequestedWorkoutType: workoutType}

	active, err := r.store.ActiveSessions(ctx, userID)
	if err != nil {
		r.logger.Error("conflict check failed", "user_id", userID, "error", err)
		return Decision{
			Action:               ActionUnknown,
			Reason:               "session store unavailable",
			Hints:                []string{"Retry in a moment."},
			RequestedWorkoutType: workoutType,
		}, fmt.Errorf("reading active sessions for user %d: %w", userID, err)
	}
	if len(active) == 0 {
		return d, nil
	}
	if len(active) > 1 {
		r.logger.Warn("multiple in-progress sessions", "user_id", userID, "count", len(active))
		sort.SliceStable(active, func(i, j int) bool {
			return active[i].StartTime.After(active[j].StartTime)
		})
	}

	s := active[0]
	p := r.policy()
	st, err := p.Evaluate(&s, r.now())
	if err != nil {
		r.logger.Error("evaluating session", "user_id", userID, "session_id", s.ID, "error", err)
		return Decision{
			Action:               ActionUnknown,
			Reason:               "open session has invalid timestamps",
			Hints:                []string{"Abandon the open session explicitly."},
			Session:              &s,
			RequestedWorkoutType: workoutType,
		}, fmt.Errorf("evaluating session %s: %w", s.ID, err)
	}

	d.Session = &s
	d.Staleness = &st
	if st.ShouldAutoAbandon && p.EnableAutoAbandon {
		d.Action = ActionAutoAbandon
		d.Reason = fmt.Sprintf("Your %s workout has been idle for %d minutes and will be closed.", labelOf(&s), st.IdleMinutes)
		d.Hints = []string{
			"Sets already logged on the old session are kept in your history.",
			"The new workout starts immediately.",
		}
		return d, nil
	}

	d.Action = ActionUserDecision
	d.Reason = fmt.Sprintf("You already have a %s workout in progress (idle %d minutes).", labelOf(&s), st.IdleMinutes)
	d.Hints = []string{
		"Resume to continue logging sets on the open workout.",
		"Abandon to close it and start a new one.",
	}
	return d, nil
}

func labelOf(s *models.WorkoutSession) string {
	if s.Name != "" {
		return s.Name
	}
	if s.WorkoutType != "" {
		return s.WorkoutType
	}
	return "previous"
}
