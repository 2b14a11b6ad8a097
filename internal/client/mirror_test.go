package client

import (
	"context"
	"testing"
	"time"

	"github.com/claude/fitforge/internal/models"
)

// TestMirrorSaveLoadClear verifies the snapshot round trip and that a
// terminal session clears the entry.
func TestMirrorSaveLoadClear(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenMirror(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()
	const srv = "http://gym.local:8080"

	got, err := m.Load(ctx, srv)
	if err != nil || got != nil {
		t.Fatalf("empty load = %v, %v", got, err)
	}

	s := &models.WorkoutSession{
		ID:          "6a0e8f0c-6b0c-4d7e-9f51-1f7f3c2b9d10",
		LegacyID:    3,
		UserID:      1,
		WorkoutType: "push",
		Status:      models.StatusInProgress,
		StartTime:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Exercises: []models.ExerciseLog{{
			ExerciseID: "bench",
			Sets:       []models.SetRecord{{Weight: 100, Reps: 5, Completed: true}},
		}},
		TotalVolume: 500,
	}
	if err := m.Save(ctx, srv, s); err != nil {
		t.Fatal(err)
	}
	got, err = m.Load(ctx, srv)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != s.ID || got.TotalVolume != 500 || len(got.Exercises[0].Sets) != 1 {
		t.Fatalf("loaded = %+v", got)
	}

	// Entries are per server.
	if other, _ := m.Load(ctx, "http://elsewhere"); other != nil {
		t.Errorf("other server has %+v", other)
	}

	s.Status = models.StatusCompleted
	if err := m.Save(ctx, srv, s); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Load(ctx, srv); got != nil {
		t.Errorf("after completion loaded %+v, want nil", got)
	}
}

// TestMirrorReopen verifies the snapshot survives closing the database.
func TestMirrorReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m, err := OpenMirror(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := &models.WorkoutSession{ID: "abc", WorkoutType: "legs", Status: models.StatusPaused}
	if err := m.Save(ctx, "srv", s); err != nil {
		t.Fatal(err)
	}
	m.Close()

	m, err = OpenMirror(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	got, err := m.Load(ctx, "srv")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != models.StatusPaused {
		t.Errorf("loaded = %+v", got)
	}
}
