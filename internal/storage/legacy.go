package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/claude/fitforge/internal/models"
	"github.com/google/uuid"
)

// legacyNamespace seeds deterministic UUIDs for records that only carry a
// numeric id, so re-importing the same file yields the same sessions.
var legacyNamespace = uuid.MustParse("5f0c7d9e-2b1a-4c8e-9f3d-7a6b5c4d3e21")

// flexID accepts a JSON number or string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type legacySet struct {
	Weight    float64    `json:"weight"`
	Reps      int        `json:"reps"`
	RPE       *float64   `json:"rpe"`
	FormScore *int       `json:"formScore"`
	Notes     string     `json:"notes"`
	Completed *bool      `json:"completed"`
	Timestamp *time.Time `json:"timestamp"`
}

type legacyExercise struct {
	ExerciseID flexID      `json:"exerciseId"`
	ID         flexID      `json:"id"`
	Name       string      `json:"name"`
	Sets       []legacySet `json:"sets"`
}

type legacySession struct {
	ID                   flexID           `json:"id"`
	UserID               flexID           `json:"userId"`
	WorkoutType          string           `json:"workoutType"`
	Type                 string           `json:"type"`
	Name                 string           `json:"name"`
	Status               string           `json:"status"`
	StartTime            *time.Time       `json:"startTime"`
	EndTime              *time.Time       `json:"endTime"`
	LastActivity         *time.Time       `json:"lastActivity"`
	Exercises            []legacyExercise `json:"exercises"`
	CurrentExerciseIndex int              `json:"currentExerciseIndex"`
	CaloriesBurned       *int             `json:"caloriesBurned"`
	Duration             *int             `json:"duration"`
	Rating               *int             `json:"rating"`
	Notes                string           `json:"notes"`
	AbandonReason        string           `json:"abandonReason"`
}

// DecodeLegacySessions parses a legacy workouts file (camelCase records,
// numeric or string ids) into sessions owned by userID.
//
// Records without a start time are skipped and reported in the returned
// warnings. If the file holds several in_progress sessions, all but the
// most recent are marked abandoned so the result can be stored.
func DecodeLegacySessions(data []byte, userID int) ([]models.WorkoutSession, []string, error) {
	var raw []legacySession
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing legacy sessions: %w", err)
	}

	var warnings []string
	out := make([]models.WorkoutSession, 0, len(raw))
	for i, r := range raw {
		if r.StartTime == nil || r.StartTime.IsZero() {
			warnings = append(warnings, fmt.Sprintf("record %d (id %q): missing startTime, skipped", i, r.ID))
			continue
		}
		status, ok := models.NormalizeStatus(r.Status)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("record %d (id %q): unknown status %q, skipped", i, r.ID, r.Status))
			continue
		}
		out = append(out, r.convert(userID, status))
	}

	normalizeActive(out)
	return out, warnings, nil
}

func (r legacySession) convert(userID int, status models.Status) models.WorkoutSession {
	s := models.WorkoutSession{
		UserID:          userID,
		WorkoutType:     r.WorkoutType,
		Name:            r.Name,
		Status:          status,
		StartTime:       r.StartTime.UTC(),
		EndTime:         utcPtr(r.EndTime),
		LastActivity:    utcPtr(r.LastActivity),
		CurrentExercise: r.CurrentExerciseIndex,
		CaloriesBurned:  r.CaloriesBurned,
		DurationMinutes: r.Duration,
		Rating:          r.Rating,
		Notes:           r.Notes,
		EndReason:       r.AbandonReason,
		Exercises:       make([]models.ExerciseLog, 0, len(r.Exercises)),
	}
	if s.WorkoutType == "" {
		s.WorkoutType = r.Type
	}

	id := string(r.ID)
	if u, err := uuid.Parse(id); err == nil {
		s.ID = u.String()
	} else {
		if n, err := strconv.Atoi(id); err == nil && n > 0 {
			s.LegacyID = n
		}
		s.ID = uuid.NewSHA1(legacyNamespace, []byte(strconv.Itoa(userID)+"/"+id+"/"+s.StartTime.Format(time.RFC3339Nano))).String()
	}

	for j, ex := range r.Exercises {
		exID := string(ex.ExerciseID)
		if exID == "" {
			exID = string(ex.ID)
		}
		if exID == "" {
			exID = strconv.Itoa(j + 1)
		}
		log := models.ExerciseLog{ExerciseID: exID, Name: ex.Name, Sets: make([]models.SetRecord, 0, len(ex.Sets))}
		for _, set := range ex.Sets {
			rec := models.SetRecord{
				Weight:    set.Weight,
				Reps:      set.Reps,
				RPE:       set.RPE,
				FormScore: set.FormScore,
				Notes:     set.Notes,
				Completed: set.Completed == nil || *set.Completed,
			}
			if set.Timestamp != nil {
				rec.Timestamp = set.Timestamp.UTC()
			}
			log.Sets = append(log.Sets, rec)
		}
		s.Exercises = append(s.Exercises, log)
	}
	if s.CurrentExercise < 0 || s.CurrentExercise >= max(len(s.Exercises), 1) {
		s.CurrentExercise = 0
	}
	s.RecalculateVolume()
	return s
}

// normalizeActive keeps only the most recent in_progress session open.
func normalizeActive(sessions []models.WorkoutSession) {
	var active []int
	for i := range sessions {
		if sessions[i].Status == models.StatusInProgress {
			active = append(active, i)
		}
	}
	if len(active) < 2 {
		return
	}
	sort.Slice(active, func(a, b int) bool {
		return sessions[active[a]].StartTime.After(sessions[active[b]].StartTime)
	})
	for _, i := range active[1:] {
		sessions[i].Status = models.StatusAbandoned
		sessions[i].EndReason = "import: superseded by a newer in-progress session"
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
