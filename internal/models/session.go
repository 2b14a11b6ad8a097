package models

import (
	"math"
	"strconv"
	"time"
)

// Calorie estimate coefficients: kcal per minute of training and per
// kilogram-rep of completed volume.
const (
	CaloriesPerMinute = 5.0
	CaloriesPerVolume = 0.05
)

// Field limits shared by request validation.
const (
	MaxNotesLength       = 500
	MaxWorkoutTypeLength = 64
)

// SetRecord is one logged set within an exercise.
type SetRecord struct {
	Weight    float64   `json:"weight"`
	Reps      int       `json:"reps"`
	RPE       *float64  `json:"rpe,omitempty"`
	FormScore *int      `json:"form_score,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

// Volume returns weight × reps for a completed set and 0 otherwise.
func (s SetRecord) Volume() float64 {
	if !s.Completed {
		return 0
	}
	return s.Weight * float64(s.Reps)
}

// Validate checks numeric ranges. The field prefix is used in error paths.
func (s SetRecord) Validate(prefix string) error {
	v := &ValidationError{}
	if s.Weight < 0 || math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0) {
		v.Add(prefix+"weight", "must be a finite number >= 0")
	}
	if s.Reps < 0 {
		v.Add(prefix+"reps", "must be >= 0")
	}
	if s.RPE != nil && (*s.RPE < 1 || *s.RPE > 10) {
		v.Add(prefix+"rpe", "must be between 1 and 10")
	}
	if s.FormScore != nil && (*s.FormScore < 1 || *s.FormScore > 10) {
		v.Add(prefix+"form_score", "must be between 1 and 10")
	}
	if len(s.Notes) > MaxNotesLength {
		v.Add(prefix+"notes", "must be at most "+strconv.Itoa(MaxNotesLength)+" characters")
	}
	return v.Err()
}

// ExerciseLog holds the sets logged for one exercise, in insertion order.
type ExerciseLog struct {
	ExerciseID string      `json:"exercise_id"`
	Name       string      `json:"name"`
	Sets       []SetRecord `json:"sets"`
}

// CompletedSets counts sets marked completed.
func (e ExerciseLog) CompletedSets() int {
	n := 0
	for _, s := range e.Sets {
		if s.Completed {
			n++
		}
	}
	return n
}

// WorkoutSession is one user's workout, in progress or finished.
// Records are never deleted; terminal statuses keep them for history.
type WorkoutSession struct {
	ID              string        `json:"id"`
	LegacyID        int           `json:"legacy_id"`
	UserID          int           `json:"user_id"`
	WorkoutType     string        `json:"workout_type"`
	Name            string        `json:"name,omitempty"`
	Status          Status        `json:"status"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	LastActivity    *time.Time    `json:"last_activity,omitempty"`
	Exercises       []ExerciseLog `json:"exercises"`
	CurrentExercise int           `json:"current_exercise"`
	TotalVolume     float64       `json:"total_volume"`
	CaloriesBurned  *int          `json:"calories_burned,omitempty"`
	DurationMinutes *int          `json:"duration_minutes,omitempty"`
	Rating          *int          `json:"rating,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	EndReason       string        `json:"end_reason,omitempty"`
}

// Touch records activity at now.
func (w *WorkoutSession) Touch(now time.Time) {
	t := now
	w.LastActivity = &t
}

// RecalculateVolume recomputes TotalVolume from the completed sets.
// Volume is always derived from the sets so repeated calls never double count.
func (w *WorkoutSession) RecalculateVolume() float64 {
	total := 0.0
	for _, ex := range w.Exercises {
		for _, s := range ex.Sets {
			total += s.Volume()
		}
	}
	w.TotalVolume = total
	return total
}

// CompletedSets counts completed sets across all exercises.
func (w *WorkoutSession) CompletedSets() int {
	n := 0
	for _, ex := range w.Exercises {
		n += ex.CompletedSets()
	}
	return n
}

// ExerciseIndex returns the index of the exercise with the given id, or -1.
func (w *WorkoutSession) ExerciseIndex(exerciseID string) int {
	for i, ex := range w.Exercises {
		if ex.ExerciseID == exerciseID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of w.
func (w *WorkoutSession) Clone() *WorkoutSession {
	c := *w
	if w.EndTime != nil {
		t := *w.EndTime
		c.EndTime = &t
	}
	if w.LastActivity != nil {
		t := *w.LastActivity
		c.LastActivity = &t
	}
	c.CaloriesBurned = cloneInt(w.CaloriesBurned)
	c.DurationMinutes = cloneInt(w.DurationMinutes)
	c.Rating = cloneInt(w.Rating)
	c.Exercises = make([]ExerciseLog, len(w.Exercises))
	for i, ex := range w.Exercises {
		c.Exercises[i] = ExerciseLog{ExerciseID: ex.ExerciseID, Name: ex.Name, Sets: make([]SetRecord, len(ex.Sets))}
		for j, s := range ex.Sets {
			if s.RPE != nil {
				r := *s.RPE
				s.RPE = &r
			}
			s.FormScore = cloneInt(s.FormScore)
			c.Exercises[i].Sets[j] = s
		}
	}
	return &c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EstimateCalories is a linear estimate from training duration and volume.
func EstimateCalories(durationMinutes int, volume float64) int {
	return int(math.Round(float64(durationMinutes)*CaloriesPerMinute + volume*CaloriesPerVolume))
}

// DurationMinutesBetween returns whole minutes from start to end, never negative.
func DurationMinutesBetween(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
