package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/claude/fitforge/internal/policy"
	"github.com/claude/fitforge/internal/session"
	"github.com/claude/fitforge/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestServerWithClock(t *testing.T, c *testClock) *Server {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := session.NewManager(fs, policy.Default(), log)
	m.SetClock(c.Now)
	return New(m, Options{}, log)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithClock(t, &testClock{now: t0})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func startSession(t *testing.T, h http.Handler, workoutType string) startResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/workout-sessions/start", map[string]string{"workout_type": workoutType})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	return decode[startResponse](t, rec)
}

// TestStartAndLogSets walks a workout through start, two sets and completion.
func TestStartAndLogSets(t *testing.T) {
	c := &testClock{now: t0}
	s := newTestServerWithClock(t, c)
	st := startSession(t, s, "push")
	base := "/api/workout-sessions/" + st.SessionID

	rec := do(t, s, http.MethodPatch, base+"/exercises/bench/sets/1", map[string]any{"weight": 100, "reps": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("log set status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[session.LogSetResult](t, rec)
	if got.TotalVolume != 500 || got.SetCount != 1 {
		t.Errorf("after set 1: %+v", got)
	}

	rec = do(t, s, http.MethodPatch, base+"/exercises/bench/sets/2", map[string]any{"weight": 110, "reps": 3})
	got = decode[session.LogSetResult](t, rec)
	if got.TotalVolume != 830 || got.SetCount != 2 {
		t.Errorf("after set 2: %+v", got)
	}

	c.now = t0.Add(60 * time.Minute)
	rec = do(t, s, http.MethodPost, base+"/complete", map[string]any{"rating": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d: %s", rec.Code, rec.Body.String())
	}
	sum := decode[session.CompletionSummary](t, rec)
	if sum.CaloriesBurned != 342 || sum.DurationMinutes != 60 {
		t.Errorf("summary = %+v", sum)
	}
}

// TestStartConflictPayload verifies a second start returns 409 with the
// decision, and the legacy prefix serves the same session.
func TestStartConflictPayload(t *testing.T) {
	s := newTestServer(t)
	st := startSession(t, s, "push")

	rec := do(t, s, http.MethodPost, "/api/workouts/start", map[string]string{"workout_type": "legs"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	body := decode[struct {
		Error    string `json:"error"`
		Conflict struct {
			Action  string `json:"action"`
			Session struct {
				ID string `json:"id"`
			} `json:"session"`
		} `json:"conflict"`
	}](t, rec)
	if body.Error != "active session conflict" || body.Conflict.Action != "user_decision_required" || body.Conflict.Session.ID != st.SessionID {
		t.Errorf("body = %+v", body)
	}

	rec = do(t, s, http.MethodGet, "/api/workouts/"+strconv.Itoa(st.LegacyID), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("legacy lookup status = %d", rec.Code)
	}
}

// TestStartValidationPayload verifies field errors come back as 400 details.
func TestStartValidationPayload(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/workout-sessions/start", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decode[struct {
		Error   string `json:"error"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	}](t, rec)
	if body.Error != "validation failed" || len(body.Details) != 1 || body.Details[0].Field != "workout_type" {
		t.Errorf("body = %+v", body)
	}

	rec = do(t, s, http.MethodPost, "/api/workout-sessions/start", map[string]any{"workout_type": "push", "colour": "red"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}
}

// TestLogSetValidation verifies out-of-range set payloads are rejected.
func TestLogSetValidation(t *testing.T) {
	s := newTestServer(t)
	st := startSession(t, s, "push")
	base := "/api/workout-sessions/" + st.SessionID + "/exercises/bench/sets/"

	tests := []struct {
		path string
		body map[string]any
	}{
		{base + "1", map[string]any{"weight": -1, "reps": 5}},
		{base + "1", map[string]any{"weight": 10, "reps": -5}},
		{base + "1", map[string]any{"weight": 10, "reps": 5, "rpe": 11}},
		{base + "0", map[string]any{"weight": 10, "reps": 5}},
		{base + "x", map[string]any{"weight": 10, "reps": 5}},
		{base + "3", map[string]any{"weight": 10, "reps": 5}},
	}
	for _, tt := range tests {
		if rec := do(t, s, http.MethodPatch, tt.path, tt.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s %v: status = %d, want 400", tt.path, tt.body, rec.Code)
		}
	}
}

// TestSessionErrorMapping verifies not found, bad ids and invalid
// transitions map to their status codes.
func TestSessionErrorMapping(t *testing.T) {
	s := newTestServer(t)
	st := startSession(t, s, "push")

	if rec := do(t, s, http.MethodGet, "/api/workout-sessions/0b5f3e52-6d7a-4b7e-8d8e-0c8a4f7e9a11", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown uuid status = %d, want 404", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/workout-sessions/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}

	if rec := do(t, s, http.MethodPut, "/api/workout-sessions/"+st.SessionID+"/abandon", map[string]string{"reason": "tired"}); rec.Code != http.StatusOK {
		t.Fatalf("abandon status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/workout-sessions/"+st.SessionID+"/complete", nil); rec.Code != http.StatusConflict {
		t.Errorf("complete after abandon status = %d, want 409", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/workout-sessions/active", nil); rec.Code != http.StatusNotFound {
		t.Errorf("active after abandon status = %d, want 404", rec.Code)
	}
}

// TestAutoAbandonOnStart verifies a stale session is closed by the start call
// and reported in the response.
func TestAutoAbandonOnStart(t *testing.T) {
	c := &testClock{now: t0}
	s := newTestServerWithClock(t, c)
	first := startSession(t, s, "push")

	c.now = t0.Add(250 * time.Minute)
	rec := do(t, s, http.MethodGet, "/api/workout-sessions/conflict?workout_type=legs", nil)
	d := decode[struct {
		Action string `json:"action"`
	}](t, rec)
	if d.Action != "auto_abandon" {
		t.Errorf("preview action = %q, want auto_abandon", d.Action)
	}

	second := startSession(t, s, "legs")
	if second.AbandonedSessionID != first.SessionID {
		t.Errorf("abandoned = %q, want %q", second.AbandonedSessionID, first.SessionID)
	}
}

// TestListAndSummary verifies history filtering and the summary counts.
func TestListAndSummary(t *testing.T) {
	s := newTestServer(t)
	st := startSession(t, s, "push")
	do(t, s, http.MethodDelete, "/api/workout-sessions/"+st.SessionID, nil)
	startSession(t, s, "legs")

	rec := do(t, s, http.MethodGet, "/api/workout-sessions/?status=cancelled", nil)
	list := decode[[]struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, rec)
	if len(list) != 1 || list[0].ID != st.SessionID {
		t.Errorf("cancelled list = %+v", list)
	}

	rec = do(t, s, http.MethodGet, "/api/workout-sessions/summary", nil)
	sum := decode[storage.SessionStats](t, rec)
	if sum.TotalSessions != 2 || sum.ByStatus["cancelled"] != 1 || sum.ByStatus["in_progress"] != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

// TestPolicyAndHealth verifies the policy and health endpoints.
func TestPolicyAndHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/policy", nil)
	p := decode[policy.Policy](t, rec)
	if p != policy.Default() {
		t.Errorf("policy = %+v", p)
	}
	if rec := do(t, s, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}
