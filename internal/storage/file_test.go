package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/claude/fitforge/internal/models"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func newSession(userID int, status models.Status, start time.Time) *models.WorkoutSession {
	return &models.WorkoutSession{
		UserID:      userID,
		WorkoutType: "push",
		Status:      status,
		StartTime:   start,
	}
}

// TestFileCreateAssignsIdentity verifies a new session receives a UUID and a
// sequential legacy number.
func TestFileCreateAssignsIdentity(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	a := newSession(1, models.StatusCompleted, t0)
	b := newSession(1, models.StatusInProgress, t0.Add(time.Hour))
	for _, s := range []*models.WorkoutSession{a, b} {
		if err := fs.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q, want two distinct UUIDs", a.ID, b.ID)
	}
	if a.LegacyID != 1 || b.LegacyID != 2 {
		t.Errorf("legacy ids = %d, %d, want 1, 2", a.LegacyID, b.LegacyID)
	}
}

// TestFileCreateRejectsSecondActive verifies the store refuses a second
// in_progress session for the same user but not for a different one.
func TestFileCreateRejectsSecondActive(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	if err := fs.CreateSession(ctx, newSession(1, models.StatusInProgress, t0)); err != nil {
		t.Fatal(err)
	}
	err := fs.CreateSession(ctx, newSession(1, models.StatusInProgress, t0.Add(time.Minute)))
	if !errors.Is(err, ErrActiveSessionExists) {
		t.Errorf("second create error = %v, want ErrActiveSessionExists", err)
	}
	if err := fs.CreateSession(ctx, newSession(2, models.StatusInProgress, t0)); err != nil {
		t.Errorf("other user create: %v", err)
	}
	if err := fs.CreateSession(ctx, newSession(1, models.StatusPaused, t0)); err != nil {
		t.Errorf("paused create: %v", err)
	}
}

// TestFileConcurrentCreate verifies that of many racing creates exactly one
// in_progress session is stored.
func TestFileConcurrentCreate(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := fs.CreateSession(ctx, newSession(1, models.StatusInProgress, t0.Add(time.Duration(i)*time.Second)))
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, ErrActiveSessionExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("successful creates = %d, want 1", ok)
	}
	active, err := fs.ActiveSessions(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("active sessions = %d, want 1", len(active))
	}
}

// TestFileGetByUUIDAndLegacy verifies both reference forms resolve to the
// same stored record.
func TestFileGetByUUIDAndLegacy(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	s := newSession(1, models.StatusInProgress, t0)
	if err := fs.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	byID, err := fs.GetSession(ctx, 1, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	byLegacy, err := fs.GetSession(ctx, 1, strconv.Itoa(s.LegacyID))
	if err != nil {
		t.Fatal(err)
	}
	if byID.ID != byLegacy.ID {
		t.Errorf("uuid lookup %q != legacy lookup %q", byID.ID, byLegacy.ID)
	}

	var ve *models.ValidationError
	if _, err := fs.GetSession(ctx, 1, "not-an-id"); !errors.As(err, &ve) {
		t.Errorf("bad ref error = %v, want ValidationError", err)
	}
	if _, err := fs.GetSession(ctx, 1, "99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing legacy error = %v, want ErrNotFound", err)
	}
}

// TestFileGetForbidden verifies a session owned by another user is reported
// as forbidden rather than missing.
func TestFileGetForbidden(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	s := newSession(2, models.StatusInProgress, t0)
	if err := fs.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.GetSession(ctx, 1, s.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("GetSession error = %v, want ErrForbidden", err)
	}
	_, err := fs.UpdateSession(ctx, 1, s.ID, func(*models.WorkoutSession) error { return nil })
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("UpdateSession error = %v, want ErrForbidden", err)
	}
}

// TestFileUpdateRoundTrip verifies a logged set survives a write and a fresh read.
func TestFileUpdateRoundTrip(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	s := newSession(1, models.StatusInProgress, t0)
	if err := fs.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	rpe := 8.0
	_, err := fs.UpdateSession(ctx, 1, s.ID, func(cur *models.WorkoutSession) error {
		cur.Exercises = append(cur.Exercises, models.ExerciseLog{
			ExerciseID: "bench",
			Sets:       []models.SetRecord{{Weight: 100, Reps: 5, RPE: &rpe, Completed: true, Timestamp: t0}},
		})
		cur.RecalculateVolume()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStore(fs.Dir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.GetSession(ctx, 1, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Exercises) != 1 || len(got.Exercises[0].Sets) != 1 {
		t.Fatalf("exercises = %+v, want one exercise with one set", got.Exercises)
	}
	set := got.Exercises[0].Sets[0]
	if set.Weight != 100 || set.Reps != 5 || set.RPE == nil || *set.RPE != 8 {
		t.Errorf("set = %+v, want 100x5 @8", set)
	}
	if got.TotalVolume != 500 {
		t.Errorf("total volume = %v, want 500", got.TotalVolume)
	}
}

// TestFileUpdateAbort verifies an error from the update function leaves the
// stored record unchanged.
func TestFileUpdateAbort(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	s := newSession(1, models.StatusInProgress, t0)
	if err := fs.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := fs.UpdateSession(ctx, 1, s.ID, func(cur *models.WorkoutSession) error {
		cur.Status = models.StatusCompleted
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	got, _ := fs.GetSession(ctx, 1, s.ID)
	if got.Status != models.StatusInProgress {
		t.Errorf("status = %q, want unchanged in_progress", got.Status)
	}

	_, err = fs.UpdateSession(ctx, 1, s.ID, func(cur *models.WorkoutSession) error {
		cur.UserID = 2
		return nil
	})
	if err == nil {
		t.Error("changing user_id succeeded, want error")
	}
}

// TestFileResumeRespectsActive verifies that reopening a paused session fails
// while another session is in_progress.
func TestFileResumeRespectsActive(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	paused := newSession(1, models.StatusPaused, t0)
	active := newSession(1, models.StatusInProgress, t0.Add(time.Hour))
	for _, s := range []*models.WorkoutSession{paused, active} {
		if err := fs.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	_, err := fs.UpdateSession(ctx, 1, paused.ID, func(cur *models.WorkoutSession) error {
		cur.Status = models.StatusInProgress
		return nil
	})
	if !errors.Is(err, ErrActiveSessionExists) {
		t.Errorf("error = %v, want ErrActiveSessionExists", err)
	}
}

// TestFileListFilter verifies status, time window and paging filters and
// newest-first ordering.
func TestFileListFilter(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	statuses := []models.Status{models.StatusCompleted, models.StatusAbandoned, models.StatusCompleted, models.StatusInProgress}
	for i, st := range statuses {
		if err := fs.CreateSession(ctx, newSession(1, st, t0.Add(time.Duration(i)*24*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	all, err := fs.ListSessions(ctx, 1, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || !all[0].StartTime.After(all[3].StartTime) {
		t.Errorf("list = %d sessions, want 4 newest first", len(all))
	}

	completed, _ := fs.ListSessions(ctx, 1, Filter{Statuses: []models.Status{models.StatusCompleted}})
	if len(completed) != 2 {
		t.Errorf("completed = %d, want 2", len(completed))
	}

	window, _ := fs.ListSessions(ctx, 1, Filter{Start: t0.Add(24 * time.Hour), End: t0.Add(3 * 24 * time.Hour)})
	if len(window) != 2 {
		t.Errorf("window = %d, want 2", len(window))
	}

	page, _ := fs.ListSessions(ctx, 1, Filter{Limit: 2, Offset: 1})
	if len(page) != 2 || !page[0].StartTime.Equal(t0.Add(2*24*time.Hour)) {
		t.Errorf("page = %+v, want two sessions starting at day 2", page)
	}

	beyond, _ := fs.ListSessions(ctx, 1, Filter{Offset: 10})
	if len(beyond) != 0 {
		t.Errorf("offset beyond end = %d sessions, want 0", len(beyond))
	}
}

// TestFileCorruptFile verifies an unparseable user file is reported instead
// of being treated as empty.
func TestFileCorruptFile(t *testing.T) {
	fs := newTestStore(t)
	dir := filepath.Join(fs.Dir(), "users", "1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, sessionsFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.ActiveSessions(context.Background(), 1); err == nil {
		t.Error("ActiveSessions on corrupt file succeeded, want error")
	}
	if err := fs.CreateSession(context.Background(), newSession(1, models.StatusInProgress, t0)); err == nil {
		t.Error("CreateSession on corrupt file succeeded, want error")
	}
}

// TestFileImportIdempotent verifies importing the same session twice inserts it once
// and that a clashing legacy number is reassigned.
func TestFileImportIdempotent(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	existing := newSession(1, models.StatusCompleted, t0)
	existing.LegacyID = 1
	if err := fs.CreateSession(ctx, existing); err != nil {
		t.Fatal(err)
	}

	imp := newSession(1, models.StatusCompleted, t0.Add(time.Hour))
	imp.ID = "0b5f3e52-6d7a-4b7e-8d8e-0c8a4f7e9a11"
	imp.LegacyID = 1
	inserted, err := fs.ImportSession(ctx, imp)
	if err != nil || !inserted {
		t.Fatalf("first import = %v, %v, want inserted", inserted, err)
	}
	if imp.LegacyID != 2 {
		t.Errorf("legacy id = %d, want reassigned to 2", imp.LegacyID)
	}

	again := newSession(1, models.StatusCompleted, t0.Add(time.Hour))
	again.ID = imp.ID
	inserted, err = fs.ImportSession(ctx, again)
	if err != nil || inserted {
		t.Errorf("second import = %v, %v, want skipped", inserted, err)
	}

	all, _ := fs.ListSessions(ctx, 1, Filter{})
	if len(all) != 2 {
		t.Errorf("sessions = %d, want 2", len(all))
	}
}

// TestFileUsers verifies login mapping, the seeded dev user and ListUserIDs.
func TestFileUsers(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	id, err := fs.GetOrCreateUser(ctx, "local", "Local Dev User")
	if err != nil || id != 1 {
		t.Fatalf("local user = %d, %v, want 1", id, err)
	}
	alice, err := fs.GetOrCreateUser(ctx, "alice@example.com", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if alice != 2 {
		t.Errorf("alice = %d, want 2", alice)
	}
	again, _ := fs.GetOrCreateUser(ctx, "alice@example.com", "")
	if again != alice {
		t.Errorf("second lookup = %d, want %d", again, alice)
	}

	if err := fs.CreateSession(ctx, newSession(7, models.StatusCompleted, t0)); err != nil {
		t.Fatal(err)
	}
	ids, err := fs.ListUserIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 7}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
}

// TestFileStats verifies counts per status and completed volume.
func TestFileStats(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	done := newSession(1, models.StatusCompleted, t0)
	done.TotalVolume = 830
	dur := 45
	done.DurationMinutes = &dur
	if err := fs.CreateSession(ctx, done); err != nil {
		t.Fatal(err)
	}
	if err := fs.CreateSession(ctx, newSession(1, models.StatusAbandoned, t0.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	st, err := fs.Stats(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalSessions != 2 || st.ByStatus[models.StatusCompleted] != 1 || st.ByStatus[models.StatusAbandoned] != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.CompletedVolume != 830 {
		t.Errorf("completed volume = %v, want 830", st.CompletedVolume)
	}
}
