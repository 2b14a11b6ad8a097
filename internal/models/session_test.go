package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func completedSet(weight float64, reps int) SetRecord {
	return SetRecord{Weight: weight, Reps: reps, Completed: true, Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

// TestRecalculateVolume verifies volume sums weight × reps over completed sets only.
func TestRecalculateVolume(t *testing.T) {
	s := &WorkoutSession{
		Exercises: []ExerciseLog{
			{ExerciseID: "bench", Sets: []SetRecord{completedSet(100, 5), completedSet(110, 3)}},
			{ExerciseID: "row", Sets: []SetRecord{{Weight: 60, Reps: 10, Completed: false}}},
		},
	}
	if got := s.RecalculateVolume(); got != 830 {
		t.Errorf("RecalculateVolume() = %v, want 830", got)
	}
	// A second call must not double count.
	if got := s.RecalculateVolume(); got != 830 {
		t.Errorf("second RecalculateVolume() = %v, want 830", got)
	}
	if s.CompletedSets() != 2 {
		t.Errorf("CompletedSets() = %d, want 2", s.CompletedSets())
	}
}

// TestSetValidate verifies the numeric ranges enforced on a logged set.
func TestSetValidate(t *testing.T) {
	rpeHigh := 11.0
	rpeOK := 8.5
	form := 0
	tests := []struct {
		name   string
		set    SetRecord
		fields []string
	}{
		{"valid", SetRecord{Weight: 100, Reps: 5, RPE: &rpeOK}, nil},
		{"zero is allowed", SetRecord{Weight: 0, Reps: 0}, nil},
		{"negative weight", SetRecord{Weight: -1, Reps: 5}, []string{"weight"}},
		{"negative reps", SetRecord{Weight: 10, Reps: -2}, []string{"reps"}},
		{"rpe out of range", SetRecord{Weight: 10, Reps: 2, RPE: &rpeHigh}, []string{"rpe"}},
		{"form score out of range", SetRecord{FormScore: &form}, []string{"form_score"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate("")
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if len(ve.Fields) != len(tt.fields) {
				t.Fatalf("got %d field errors, want %d: %v", len(ve.Fields), len(tt.fields), ve)
			}
			for i, f := range tt.fields {
				if ve.Fields[i].Field != f {
					t.Errorf("field[%d] = %q, want %q", i, ve.Fields[i].Field, f)
				}
			}
		})
	}
}

// TestEstimateCalories verifies the linear duration/volume estimate.
func TestEstimateCalories(t *testing.T) {
	if got := EstimateCalories(60, 830); got != 342 {
		t.Errorf("EstimateCalories(60, 830) = %d, want 342", got)
	}
	if got := EstimateCalories(0, 0); got != 0 {
		t.Errorf("EstimateCalories(0, 0) = %d, want 0", got)
	}
}

// TestDurationMinutesBetween verifies whole-minute truncation and the zero floor.
func TestDurationMinutesBetween(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := DurationMinutesBetween(start, start.Add(61*time.Minute+59*time.Second)); got != 61 {
		t.Errorf("got %d, want 61", got)
	}
	if got := DurationMinutesBetween(start, start.Add(-time.Hour)); got != 0 {
		t.Errorf("got %d, want 0 for end before start", got)
	}
}

// TestCloneIsDeep verifies that mutating a clone leaves the original untouched.
func TestCloneIsDeep(t *testing.T) {
	rpe := 7.0
	orig := &WorkoutSession{
		ID:        "a",
		Exercises: []ExerciseLog{{ExerciseID: "squat", Sets: []SetRecord{{Weight: 100, Reps: 5, RPE: &rpe}}}},
	}
	c := orig.Clone()
	c.Exercises[0].Sets[0].Weight = 200
	*c.Exercises[0].Sets[0].RPE = 9
	c.Exercises = append(c.Exercises, ExerciseLog{ExerciseID: "deadlift"})

	if orig.Exercises[0].Sets[0].Weight != 100 {
		t.Errorf("original weight changed to %v", orig.Exercises[0].Sets[0].Weight)
	}
	if *orig.Exercises[0].Sets[0].RPE != 7 {
		t.Errorf("original rpe changed to %v", *orig.Exercises[0].Sets[0].RPE)
	}
	if len(orig.Exercises) != 1 {
		t.Errorf("original exercises = %d, want 1", len(orig.Exercises))
	}
}

// TestSessionDecodeLegacyStatus verifies that an older session file with a
// legacy status spelling decodes into the canonical status.
func TestSessionDecodeLegacyStatus(t *testing.T) {
	raw := `{"id":"x","user_id":1,"status":"active","start_time":"2026-03-01T10:00:00Z","exercises":[]}`
	var s WorkoutSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusInProgress {
		t.Errorf("status = %q, want %q", s.Status, StatusInProgress)
	}
	if s.LastActivity != nil {
		t.Errorf("last_activity = %v, want nil for legacy record", s.LastActivity)
	}
}
