package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/claude/fitforge/internal/conflict"
	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/policy"
)

// Reasons recorded on sessions closed by the manager.
const (
	ReasonUserChoice    = "user_choice"
	ReasonUserAbandoned = "abandoned by user"
	ReasonUserCancelled = "cancelled by user"
)

func autoAbandonReason(idleMinutes int) string {
	return "auto_abandon: idle " + strconv.Itoa(idleMinutes) + " minutes"
}

// ExerciseInput names an exercise to add to a session.
type ExerciseInput struct {
	ExerciseID string `json:"exercise_id"`
	Name       string `json:"name"`
}

func (e ExerciseInput) validate(v *models.ValidationError, prefix string) {
	if strings.TrimSpace(e.ExerciseID) == "" {
		v.Add(prefix+"exercise_id", "is required")
	}
	if len(e.Name) > 128 {
		v.Add(prefix+"name", "must be at most 128 characters")
	}
}

// StartRequest asks for a new in_progress session.
type StartRequest struct {
	WorkoutType string          `json:"workout_type"`
	Name        string          `json:"name,omitempty"`
	Exercises   []ExerciseInput `json:"exercises,omitempty"`
	// AbandonExisting closes an open session the user was asked about
	// instead of returning a ConflictError.
	AbandonExisting bool `json:"abandon_existing,omitempty"`
}

// Validate checks the request fields.
func (r StartRequest) Validate() error {
	v := &models.ValidationError{}
	wt := strings.TrimSpace(r.WorkoutType)
	switch {
	case wt == "":
		v.Add("workout_type", "is required")
	case len(wt) > models.MaxWorkoutTypeLength:
		v.Add("workout_type", "must be at most "+strconv.Itoa(models.MaxWorkoutTypeLength)+" characters")
	}
	seen := map[string]bool{}
	for i, ex := range r.Exercises {
		prefix := "exercises[" + strconv.Itoa(i) + "]."
		ex.validate(v, prefix)
		if seen[ex.ExerciseID] {
			v.Add(prefix+"exercise_id", "is duplicated")
		}
		seen[ex.ExerciseID] = true
	}
	return v.Err()
}

// StartResult describes a successful start.
type StartResult struct {
	Session            *models.WorkoutSession `json:"session"`
	AbandonedSessionID string                 `json:"abandoned_session_id,omitempty"`
	Decision           conflict.Decision      `json:"decision"`
}

// SetInput is the payload for logging or replacing a set.
type SetInput struct {
	Weight       float64  `json:"weight"`
	Reps         int      `json:"reps"`
	RPE          *float64 `json:"rpe,omitempty"`
	FormScore    *int     `json:"form_score,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Completed    *bool    `json:"completed,omitempty"`
	ExerciseName string   `json:"exercise_name,omitempty"`
}

func (in SetInput) record(now time.Time) models.SetRecord {
	return models.SetRecord{
		Weight:    in.Weight,
		Reps:      in.Reps,
		RPE:       in.RPE,
		FormScore: in.FormScore,
		Notes:     in.Notes,
		Completed: in.Completed == nil || *in.Completed,
		Timestamp: now,
	}
}

// LogSetResult reports the running totals after a set was logged.
type LogSetResult struct {
	TotalVolume float64                `json:"total_volume"`
	SetCount    int                    `json:"set_count"`
	Set         models.SetRecord       `json:"set"`
	Session     *models.WorkoutSession `json:"-"`
}

// CompleteInput carries the optional feedback given on completion.
type CompleteInput struct {
	Rating *int   `json:"rating,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Validate checks rating and notes.
func (in CompleteInput) Validate() error {
	v := &models.ValidationError{}
	if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
		v.Add("rating", "must be between 1 and 5")
	}
	if len(in.Notes) > models.MaxNotesLength {
		v.Add("notes", "must be at most "+strconv.Itoa(models.MaxNotesLength)+" characters")
	}
	return v.Err()
}

// CompletionSummary is returned by Complete.
type CompletionSummary struct {
	SessionID        string        `json:"session_id"`
	LegacyID         int           `json:"legacy_id"`
	WorkoutType      string        `json:"workout_type"`
	Status           models.Status `json:"status"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	DurationMinutes  int           `json:"duration_minutes"`
	TotalVolume      float64       `json:"total_volume"`
	CaloriesBurned   int           `json:"calories_burned"`
	ExerciseCount    int           `json:"exercise_count"`
	CompletedSets    int           `json:"completed_sets"`
	Rating           *int          `json:"rating,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	AlreadyCompleted bool          `json:"already_completed"`
}

func summarize(s *models.WorkoutSession, already bool) *CompletionSummary {
	sum := &CompletionSummary{
		SessionID:        s.ID,
		LegacyID:         s.LegacyID,
		WorkoutType:      s.WorkoutType,
		Status:           s.Status,
		StartTime:        s.StartTime,
		TotalVolume:      s.TotalVolume,
		ExerciseCount:    len(s.Exercises),
		CompletedSets:    s.CompletedSets(),
		Rating:           s.Rating,
		Notes:            s.Notes,
		AlreadyCompleted: already,
	}
	if s.EndTime != nil {
		sum.EndTime = *s.EndTime
	}
	if s.DurationMinutes != nil {
		sum.DurationMinutes = *s.DurationMinutes
	}
	if s.CaloriesBurned != nil {
		sum.CaloriesBurned = *s.CaloriesBurned
	}
	return sum
}

// Progress is a snapshot of where a session stands.
type Progress struct {
	SessionID         string            `json:"session_id"`
	Status            models.Status     `json:"status"`
	CurrentExercise   int               `json:"current_exercise"`
	CurrentExerciseID string            `json:"current_exercise_id,omitempty"`
	ExerciseCount     int               `json:"exercise_count"`
	CompletedSets     int               `json:"completed_sets"`
	TotalVolume       float64           `json:"total_volume"`
	ElapsedMinutes    int               `json:"elapsed_minutes"`
	Staleness         *policy.Staleness `json:"staleness,omitempty"`
}

// ActiveSession is the user's open session with its staleness.
type ActiveSession struct {
	Session   *models.WorkoutSession `json:"session"`
	Staleness policy.Staleness       `json:"staleness"`
}

// Resolution choices for an open session.
const (
	ChoiceResume  = "resume"
	ChoiceAbandon = "abandon"
)
