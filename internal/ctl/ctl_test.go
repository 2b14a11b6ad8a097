package ctl

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/claude/fitforge/internal/client"
	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/policy"
	"github.com/claude/fitforge/internal/server"
	"github.com/claude/fitforge/internal/session"
	"github.com/claude/fitforge/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(server.New(session.NewManager(fs, policy.Default(), log), server.Options{}, log))
	t.Cleanup(ts.Close)
	return ts
}

// run executes one fitforgectl invocation and returns its output.
func run(t *testing.T, serverURL, stateDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs(append([]string{"--server", serverURL, "--state-dir", stateDir}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, serverURL, stateDir string, args ...string) string {
	t.Helper()
	out, err := run(t, serverURL, stateDir, args...)
	if err != nil {
		t.Fatalf("fitforgectl %v: %v\n%s", args, err, out)
	}
	return out
}

func mirrored(t *testing.T, stateDir, serverURL string) *models.WorkoutSession {
	t.Helper()
	m, err := client.OpenMirror(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	s, err := m.Load(context.Background(), serverURL)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// TestWorkoutFlow verifies start, two logged sets, status and complete, with
// the mirror tracking the open workout and cleared at the end.
func TestWorkoutFlow(t *testing.T) {
	ts := newTestServer(t)
	state := t.TempDir()

	out := mustRun(t, ts.URL, state, "start", "push", "--name", "Monday push")
	if !strings.Contains(out, "Started push workout") {
		t.Errorf("start output = %q", out)
	}
	if s := mirrored(t, state, ts.URL); s == nil || s.WorkoutType != "push" {
		t.Fatalf("mirror after start = %+v", s)
	}

	mustRun(t, ts.URL, state, "log", "bench", "--weight", "100", "--reps", "5")
	out = mustRun(t, ts.URL, state, "log", "bench", "--weight", "100", "--reps", "4")
	if !strings.Contains(out, "bench set 2") || !strings.Contains(out, "Total volume 900") {
		t.Errorf("second log output = %q", out)
	}
	if s := mirrored(t, state, ts.URL); s == nil || s.CompletedSets() != 2 {
		t.Errorf("mirror did not pick up logged sets: %+v", s)
	}

	out = mustRun(t, ts.URL, state, "status")
	if !strings.Contains(out, "push") || !strings.Contains(out, "bench: 2 sets") {
		t.Errorf("status output = %q", out)
	}

	out = mustRun(t, ts.URL, state, "complete", "--rating", "4")
	if !strings.Contains(out, "Completed push workout") || !strings.Contains(out, "2 sets") {
		t.Errorf("complete output = %q", out)
	}
	if s := mirrored(t, state, ts.URL); s != nil {
		t.Errorf("mirror not cleared after complete: %+v", s)
	}

	out = mustRun(t, ts.URL, state, "status")
	if !strings.Contains(out, "No active workout") {
		t.Errorf("status after complete = %q", out)
	}
}

// TestStartConflict verifies a second start reports the open workout and
// --abandon-existing replaces it.
func TestStartConflict(t *testing.T) {
	ts := newTestServer(t)
	state := t.TempDir()

	mustRun(t, ts.URL, state, "start", "push")
	out, err := run(t, ts.URL, state, "start", "legs")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !strings.Contains(out, "Another workout is still open") {
		t.Errorf("conflict output = %q", out)
	}

	out = mustRun(t, ts.URL, state, "start", "legs", "--abandon-existing")
	if !strings.Contains(out, "Abandoned previous workout") {
		t.Errorf("abandon-existing output = %q", out)
	}
	if s := mirrored(t, state, ts.URL); s == nil || s.WorkoutType != "legs" {
		t.Errorf("mirror = %+v, want legs", s)
	}
}

// TestAbandonWithoutActive verifies commands that need a workout fail clearly.
func TestAbandonWithoutActive(t *testing.T) {
	ts := newTestServer(t)
	out, err := run(t, ts.URL, t.TempDir(), "abandon")
	if err == nil || !strings.Contains(err.Error(), "no active workout") {
		t.Fatalf("err = %v, output %q", err, out)
	}
}

// TestResolveRejectsUnknownChoice verifies argument validation happens
// before any request is made.
func TestResolveRejectsUnknownChoice(t *testing.T) {
	if _, err := run(t, "http://127.0.0.1:1", t.TempDir(), "resolve", "maybe"); err == nil {
		t.Fatal("expected error for invalid choice")
	}
}

// TestStatusOffline verifies status falls back to the mirrored workout when
// the server cannot be reached.
func TestStatusOffline(t *testing.T) {
	ts := newTestServer(t)
	state := t.TempDir()
	url := ts.URL

	mustRun(t, url, state, "start", "pull")
	ts.Close()

	out := mustRun(t, url, state, "status")
	if !strings.Contains(out, "Server unreachable") || !strings.Contains(out, "pull") {
		t.Errorf("offline status = %q", out)
	}
}

// TestSweepAndBackup verifies the direct-store commands against a file store
// named by a config file.
func TestSweepAndBackup(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "storage:\n  driver: file\n  data_dir: " + dataDir + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	fs, err := storage.NewFileStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	stale := &models.WorkoutSession{
		UserID:      1,
		WorkoutType: "push",
		Status:      models.StatusInProgress,
		StartTime:   time.Now().UTC().Add(-6 * time.Hour),
	}
	if err := fs.CreateSession(context.Background(), stale); err != nil {
		t.Fatal(err)
	}
	fs.Close()

	state := t.TempDir()
	out := mustRun(t, "http://127.0.0.1:1", state, "--config", cfgPath, "sweep")
	if !strings.Contains(out, "Abandoned 1 stale sessions") {
		t.Errorf("sweep output = %q", out)
	}

	backups := filepath.Join(dir, "backups")
	out = mustRun(t, "http://127.0.0.1:1", state, "--config", cfgPath, "backup", "--dir", backups)
	if !strings.Contains(out, "Backed up 1 sessions for 1 users") {
		t.Errorf("backup output = %q", out)
	}
	day := time.Now().UTC().Format("2006-01-02")
	matches, _ := filepath.Glob(filepath.Join(backups, day, "users", "1", "workouts-*.json"))
	if len(matches) != 1 {
		t.Errorf("backup files = %v", matches)
	}
}
