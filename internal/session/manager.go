// Package session owns every mutation of a workout session.
//
// All writes for one user run under that user's lock, so the conflict check
// and the create that follows it cannot interleave with another request.
// The store enforces the one-open-session rule again as a backstop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/claude/fitforge/internal/conflict"
	"github.com/claude/fitforge/internal/keylock"
	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/policy"
	"github.com/claude/fitforge/internal/storage"
	"github.com/google/uuid"
)

// Manager coordinates the resolver and the store.
type Manager struct {
	store    storage.Store
	resolver *conflict.Resolver
	policy   atomic.Pointer[policy.Policy]
	locks    keylock.Map[int]
	now      func() time.Time
	logger   *slog.Logger
}

// NewManager creates a Manager using p until SetPolicy replaces it.
func NewManager(store storage.Store, p policy.Policy, logger *slog.Logger) *Manager {
	m := &Manager{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	m.policy.Store(&p)
	m.resolver = conflict.NewResolver(store, m.Policy, logger)
	m.resolver.SetClock(func() time.Time { return m.now() })
	return m
}

// SetClock replaces the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Store returns the underlying store.
func (m *Manager) Store() storage.Store { return m.store }

// Policy returns the policy currently in force.
func (m *Manager) Policy() policy.Policy { return *m.policy.Load() }

// CurrentPolicy is Policy for callers that may be talking to a remote server.
func (m *Manager) CurrentPolicy(context.Context) (policy.Policy, error) { return m.Policy(), nil }

// SetPolicy validates p and makes it the policy for subsequent calls.
func (m *Manager) SetPolicy(p policy.Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	m.policy.Store(&p)
	m.logger.Info("session policy updated",
		"warning_threshold", p.WarningThreshold,
		"auto_abandon_threshold", p.AutoAbandonThreshold,
		"enable_auto_abandon", p.EnableAutoAbandon)
	return nil
}

// CheckConflict previews what Start would do for userID without changing anything.
func (m *Manager) CheckConflict(ctx context.Context, userID int, workoutType string) (conflict.Decision, error) {
	d, err := m.resolver.Resolve(ctx, userID, workoutType)
	if d.Action == conflict.ActionUnknown {
		return d, fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
	}
	return d, err
}

// Start opens a new in_progress session for userID.
//
// A stale open session is abandoned first. A session that needs the user's
// decision yields a *ConflictError unless req.AbandonExisting is set.
func (m *Manager) Start(ctx context.Context, userID int, req StartRequest) (*StartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(userID)
	defer unlock()

	workoutType := strings.TrimSpace(req.WorkoutType)
	d, err := m.resolver.Resolve(ctx, userID, workoutType)
	res := &StartResult{Decision: d}

	switch d.Action {
	case conflict.ActionUnknown:
		return nil, fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
	case conflict.ActionAutoAbandon:
		reason := autoAbandonReason(d.Staleness.IdleMinutes)
		if _, err := m.terminate(ctx, userID, d.Session.ID, models.StatusAbandoned, reason); err != nil {
			return nil, fmt.Errorf("auto-abandoning session %s: %w", d.Session.ID, err)
		}
		res.AbandonedSessionID = d.Session.ID
		m.logger.Info("auto-abandoned stale session",
			"user_id", userID, "session_id", d.Session.ID, "idle_minutes", d.Staleness.IdleMinutes)
	case conflict.ActionUserDecision:
		if !req.AbandonExisting {
			return nil, &ConflictError{Decision: d}
		}
		if _, err := m.terminate(ctx, userID, d.Session.ID, models.StatusAbandoned, ReasonUserChoice); err != nil {
			return nil, fmt.Errorf("abandoning session %s: %w", d.Session.ID, err)
		}
		res.AbandonedSessionID = d.Session.ID
	}

	now := m.now()
	s := &models.WorkoutSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		WorkoutType: workoutType,
		Name:        strings.TrimSpace(req.Name),
		Status:      models.StatusInProgress,
		StartTime:   now,
		Exercises:   make([]models.ExerciseLog, 0, len(req.Exercises)),
	}
	s.Touch(now)
	for _, ex := range req.Exercises {
		s.Exercises = append(s.Exercises, models.ExerciseLog{ExerciseID: ex.ExerciseID, Name: ex.Name, Sets: []models.SetRecord{}})
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	res.Session = s
	m.logger.Info("session started", "user_id", userID, "session_id", s.ID, "workout_type", workoutType)
	return res, nil
}

// ResolveConflict applies the user's choice to an open session:
// ChoiceResume reopens it and ChoiceAbandon closes it.
func (m *Manager) ResolveConflict(ctx context.Context, userID int, ref, choice string) (*models.WorkoutSession, error) {
	switch choice {
	case ChoiceResume:
		return m.Resume(ctx, userID, ref)
	case ChoiceAbandon:
		unlock := m.locks.Lock(userID)
		defer unlock()
		return m.terminate(ctx, userID, ref, models.StatusAbandoned, ReasonUserChoice)
	default:
		return nil, models.NewValidationError("choice", "must be \"resume\" or \"abandon\"")
	}
}

// update runs fn against the session under the user's lock.
func (m *Manager) update(ctx context.Context, userID int, ref string, fn storage.UpdateFunc) (*models.WorkoutSession, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.store.UpdateSession(ctx, userID, ref, fn)
}

func requireStatus(s *models.WorkoutSession, allowed ...models.Status) error {
	for _, st := range allowed {
		if s.Status == st {
			return nil
		}
	}
	return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.Status)
}

// LogSet records set number setNo (1-based) for an exercise. setNo equal to
// the current set count plus one appends; an existing number replaces that
// set. An exercise id not yet in the session is added first.
func (m *Manager) LogSet(ctx context.Context, userID int, ref, exerciseID string, setNo int, in SetInput) (*LogSetResult, error) {
	v := &models.ValidationError{}
	if strings.TrimSpace(exerciseID) == "" {
		v.Add("exercise_id", "is required")
	}
	if setNo < 1 {
		v.Add("set_no", "must be >= 1")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	now := m.now()
	rec := in.record(now)
	if err := rec.Validate(""); err != nil {
		return nil, err
	}

	res := &LogSetResult{Set: rec}
	s, err := m.update(ctx, userID, ref, func(cur *models.WorkoutSession) error {
		if err := requireStatus(cur, models.StatusInProgress); err != nil {
			return err
		}
		idx := cur.ExerciseIndex(exerciseID)
		if idx < 0 {
			cur.Exercises = append(cur.Exercises, models.ExerciseLog{ExerciseID: exerciseID, Name: in.ExerciseName, Sets: []models.SetRecord{}})
			idx = len(cur.Exercises) - 1
		}
		ex := &cur.Exercises[idx]
		switch {
		case setNo == len(ex.Sets)+1:
			ex.Sets = append(ex.Sets, rec)
		case setNo <= len(ex.Sets):
			ex.Sets[setNo-1] = rec
		default:
			return models.NewValidationError("set_no", fmt.Sprintf("must be between 1 and %d", len(ex.Sets)+1))
		}
		cur.CurrentExercise = idx
		res.SetCount = len(ex.Sets)
		res.TotalVolume = cur.RecalculateVolume()
		cur.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Session = s
	return res, nil
}

// AddExercise appends an exercise to an open session.
func (m *Manager) AddExercise(ctx context.Context, userID int, ref string, in ExerciseInput) (*models.WorkoutSession, error) {
	v := &models.ValidationError{}
	in.validate(v, "")
	if err := v.Err(); err != nil {
		return nil, err
	}
	now := m.now()
	return m.update(ctx, userID, ref, func(cur *models.WorkoutSession) error {
		if err := requireStatus(cur, models.StatusInProgress, models.StatusPaused); err != nil {
			return err
		}
		if cur.ExerciseIndex(in.ExerciseID) >= 0 {
			return models.NewValidationError("exercise_id", "already in session")
		}
		cur.Exercises = append(cur.Exercises, models.ExerciseLog{ExerciseID: in.ExerciseID, Name: in.Name, Sets: []models.SetRecord{}})
		cur.Touch(now)
		return nil
	})
}

// NextExercise advances the exercise cursor, stopping at the last exercise.
func (m *Manager) NextExercise(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error) {
	return m.moveCursor(ctx, userID, ref, 1)
}

// PreviousExercise moves the exercise cursor back, stopping at the first exercise.
func (m *Manager) PreviousExercise(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error) {
	return m.moveCursor(ctx, userID, ref, -1)
}

func (m *Manager) moveCursor(ctx context.Context, userID int, ref string, delta int) (*models.WorkoutSession, error) {
	now := m.now()
	return m.update(ctx, userID, ref, func(cur *models.WorkoutSession) error {
		if err := requireStatus(cur, models.StatusInProgress); err != nil {
			return err
		}
		last := max(len(cur.Exercises)-1, 0)
		cur.CurrentExercise = min(max(cur.CurrentExercise+delta, 0), last)
		cur.Touch(now)
		return nil
	})
}

// Pause parks an in_progress session. Pausing a paused session is a no-op.
func (m *Manager) Pause(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error) {
	now := m.now()
	return m.update(ctx, userID, ref, func(cur *models.WorkoutSession) error {
		if err := requireStatus(cur, models.StatusInProgress, models.StatusPaused); err != nil {
			return err
		}
		if cur.Status == models.StatusInProgress {
			cur.Status = models.StatusPaused
			cur.Touch(now)
		}
		return nil
	})
}

// Resume reopens a paused session, or refreshes the activity time of an
// in_progress one. Fails with storage.ErrActiveSessionExists if another
// session is already in progress.
func (m *Manager) Resume(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error) {
	now := m.now()
	return m.update(ctx, userID, ref, func(cur *models.WorkoutSession) error {
		if err := requireStatus(cur, models.StatusInProgress, models.StatusPaused); err != nil {
			return err
		}
		cur.Status = models.StatusInProgress
		cur.Touch(now)
		return nil
	})
}

// Complete finishes a session and returns its summary. Completing an
// already completed session returns the stored summary unchanged.
func (m *Manager) Complete(ctx context.Context, userID int, ref string, in CompleteInput) (*CompletionSummary, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := m.now()
	already := false
	s, err := m.update(ctx, userID, ref, func(cur *models.WorkoutSession) error {
		if cur.Status == models.StatusCompleted {
			already = true
			return nil
		}
		if err := requireStatus(cur, models.StatusInProgress, models.StatusPaused); err != nil {
			return err
		}
		end := now
		duration := models.DurationMinutesBetween(cur.StartTime, end)
		volume := cur.RecalculateVolume()
		calories := models.EstimateCalories(duration, volume)

		cur.Status = models.StatusCompleted
		cur.EndTime = &end
		cur.DurationMinutes = &duration
		cur.CaloriesBurned = &calories
		if in.Rating != nil {
			r := *in.Rating
			cur.Rating = &r
		}
		if in.Notes != "" {
			cur.Notes = in.Notes
		}
		cur.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !already {
		m.logger.Info("session completed", "user_id", userID, "session_id", s.ID,
			"duration_minutes", *s.DurationMinutes, "total_volume", s.TotalVolume)
	}
	return summarize(s, already), nil
}

// Abandon closes a session as abandoned.
func (m *Manager) Abandon(ctx context.Context, userID int, ref, reason string) (*models.WorkoutSession, error) {
	if reason == "" {
		reason = ReasonUserAbandoned
	}
	if err := validateReason(reason); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.terminate(ctx, userID, ref, models.StatusAbandoned, reason)
}

// Cancel closes a session as cancelled.
func (m *Manager) Cancel(ctx context.Context, userID int, ref, reason string) (*models.WorkoutSession, error) {
	if reason == "" {
		reason = ReasonUserCancelled
	}
	if err := validateReason(reason); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.terminate(ctx, userID, ref, models.StatusCancelled, reason)
}

func validateReason(reason string) error {
	if len(reason) > models.MaxNotesLength {
		return models.NewValidationError("reason", fmt.Sprintf("must be at most %d characters", models.MaxNotesLength))
	}
	return nil
}

// terminate moves a session to a terminal status. The caller holds the user lock.
// Repeating the same terminal transition leaves the session untouched.
func (m *Manager) terminate(ctx context.Context, userID int, ref string, status models.Status, reason string) (*models.WorkoutSession, error) {
	now := m.now()
	return m.store.UpdateSession(ctx, userID, ref, func(cur *models.WorkoutSession) error {
		if cur.Status == status {
			return nil
		}
		if err := requireStatus(cur, models.StatusInProgress, models.StatusPaused); err != nil {
			return err
		}
		end := now
		duration := models.DurationMinutesBetween(cur.StartTime, end)
		cur.Status = status
		cur.EndTime = &end
		cur.DurationMinutes = &duration
		cur.EndReason = reason
		cur.RecalculateVolume()
		return nil
	})
}

// Get returns one of the user's sessions.
func (m *Manager) Get(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error) {
	return m.store.GetSession(ctx, userID, ref)
}

// Active returns the user's in_progress session, or storage.ErrNotFound.
func (m *Manager) Active(ctx context.Context, userID int) (*ActiveSession, error) {
	sessions, err := m.store.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, storage.ErrNotFound
	}
	s := &sessions[0]
	st, err := m.Policy().Evaluate(s, m.now())
	if err != nil {
		return nil, err
	}
	return &ActiveSession{Session: s, Staleness: st}, nil
}

// Progress reports where a session stands. Staleness is only set for
// sessions that are still open.
func (m *Manager) Progress(ctx context.Context, userID int, ref string) (*Progress, error) {
	s, err := m.store.GetSession(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	now := m.now()
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	p := &Progress{
		SessionID:       s.ID,
		Status:          s.Status,
		CurrentExercise: s.CurrentExercise,
		ExerciseCount:   len(s.Exercises),
		CompletedSets:   s.CompletedSets(),
		TotalVolume:     s.RecalculateVolume(),
		ElapsedMinutes:  models.DurationMinutesBetween(s.StartTime, end),
	}
	if s.CurrentExercise >= 0 && s.CurrentExercise < len(s.Exercises) {
		p.CurrentExerciseID = s.Exercises[s.CurrentExercise].ExerciseID
	}
	if !s.Status.Terminal() {
		st, err := m.Policy().Evaluate(s, now)
		if err != nil {
			return nil, err
		}
		p.Staleness = &st
	}
	return p, nil
}

// History lists the user's sessions, newest first.
func (m *Manager) History(ctx context.Context, userID int, f storage.Filter) ([]models.WorkoutSession, error) {
	return m.store.ListSessions(ctx, userID, f)
}

// Summary aggregates the user's sessions.
func (m *Manager) Summary(ctx context.Context, userID int) (*storage.SessionStats, error) {
	return m.store.Stats(ctx, userID)
}

// SweepStale abandons every in_progress session the policy marks for
// automatic abandonment and returns how many were closed. A failure for one
// user does not stop the sweep.
func (m *Manager) SweepStale(ctx context.Context) (int, error) {
	p := m.Policy()
	if !p.EnableAutoAbandon {
		return 0, nil
	}
	ids, err := m.store.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}

	var errs []error
	closed := 0
	for _, uid := range ids {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		n, err := m.sweepUser(ctx, uid, p)
		closed += n
		if err != nil {
			m.logger.Error("sweeping user", "user_id", uid, "error", err)
			errs = append(errs, fmt.Errorf("user %d: %w", uid, err))
		}
	}
	if closed > 0 {
		m.logger.Info("stale sessions abandoned", "count", closed)
	}
	return closed, errors.Join(errs...)
}

func (m *Manager) sweepUser(ctx context.Context, userID int, p policy.Policy) (int, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	sessions, err := m.store.ActiveSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	closed := 0
	for i := range sessions {
		st, err := p.Evaluate(&sessions[i], m.now())
		if err != nil {
			m.logger.Warn("skipping unevaluable session", "user_id", userID, "session_id", sessions[i].ID, "error", err)
			continue
		}
		if !st.ShouldAutoAbandon {
			continue
		}
		if _, err := m.terminate(ctx, userID, sessions[i].ID, models.StatusAbandoned, autoAbandonReason(st.IdleMinutes)); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}
