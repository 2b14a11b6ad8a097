// Package client talks to a FitForge server over HTTP and keeps a local
// copy of the active session so a restarted CLI can pick up where it left off.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claude/fitforge/internal/conflict"
	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/policy"
	"github.com/claude/fitforge/internal/session"
	"github.com/claude/fitforge/internal/storage"
)

const sessionsPath = "/api/workout-sessions"

// Client calls the FitForge REST API. The server derives the user from the
// connection, so the userID arguments some methods accept are ignored.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	backoff    time.Duration
}

// New creates a Client targeting baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    3,
		backoff:    time.Second,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Details    []models.FieldError
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		parts := make([]string, 0, len(e.Details))
		for _, d := range e.Details {
			parts = append(parts, d.Field+": "+d.Message)
		}
		return fmt.Sprintf("server returned %d: %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps status codes onto the sentinel errors the server started from.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return storage.ErrNotFound
	case http.StatusForbidden:
		return storage.ErrForbidden
	case http.StatusServiceUnavailable:
		return session.ErrResolverUnavailable
	}
	return nil
}

// ConflictError is returned by Start when the server answers 409 with a
// conflict decision.
type ConflictError struct {
	Decision conflict.Decision
}

func (e *ConflictError) Error() string {
	return "active session conflict: " + e.Decision.Reason
}

type errorBody struct {
	Error    string              `json:"error"`
	Details  []models.FieldError `json:"details"`
	Conflict *conflict.Decision  `json:"conflict"`
}

// do sends a request and decodes a 2xx JSON response into out.
// Reads are retried with exponential backoff on transport errors and 5xx.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = max(c.retries, 1)
	}
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff << uint(attempt-1)):
			}
		}
		retry, err := c.send(ctx, method, u, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	if attempts > 1 {
		return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, method, u, path string, payload []byte, out any) (retry bool, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return false, fmt.Errorf("client: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("client: read body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return false, nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("client: decode %s: %w", path, err)
		}
		return false, nil
	}

	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	if resp.StatusCode == http.StatusConflict && eb.Conflict != nil {
		return false, &ConflictError{Decision: *eb.Conflict}
	}
	msg := eb.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return resp.StatusCode >= 500, &APIError{StatusCode: resp.StatusCode, Message: msg, Details: eb.Details}
}

func sessionPath(ref string, rest ...string) string {
	p := sessionsPath + "/" + url.PathEscape(ref)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// StartResponse is the body of a successful start.
type StartResponse struct {
	SessionID          string                 `json:"session_id"`
	LegacyID           int                    `json:"legacy_id"`
	StartTime          time.Time              `json:"start_time"`
	AbandonedSessionID string                 `json:"abandoned_session_id,omitempty"`
	Session            *models.WorkoutSession `json:"session"`
}

// Start opens a new session. A pending decision yields *ConflictError.
func (c *Client) Start(ctx context.Context, req session.StartRequest) (*StartResponse, error) {
	var resp StartResponse
	if err := c.do(ctx, http.MethodPost, sessionsPath+"/start", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckConflict previews what a start would do.
func (c *Client) CheckConflict(ctx context.Context, _ int, workoutType string) (conflict.Decision, error) {
	var d conflict.Decision
	params := url.Values{}
	if workoutType != "" {
		params.Set("workout_type", workoutType)
	}
	err := c.do(ctx, http.MethodGet, sessionsPath+"/conflict", params, nil, &d)
	return d, err
}

// Active returns the open session, or an error wrapping storage.ErrNotFound.
func (c *Client) Active(ctx context.Context, _ int) (*session.ActiveSession, error) {
	var a session.ActiveSession
	if err := c.do(ctx, http.MethodGet, sessionsPath+"/active", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Get fetches one session by UUID or legacy number.
func (c *Client) Get(ctx context.Context, ref string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodGet, sessionPath(ref), nil)
}

// History lists sessions matching f.
func (c *Client) History(ctx context.Context, _ int, f storage.Filter) ([]models.WorkoutSession, error) {
	params := url.Values{}
	if len(f.Statuses) > 0 {
		sts := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			sts[i] = string(st)
		}
		params.Set("status", strings.Join(sts, ","))
	}
	if !f.Start.IsZero() {
		params.Set("start", f.Start.Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		params.Set("end", f.End.Format(time.RFC3339))
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		params.Set("offset", strconv.Itoa(f.Offset))
	}
	var sessions []models.WorkoutSession
	if err := c.do(ctx, http.MethodGet, sessionsPath+"/", params, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Summary returns aggregate statistics.
func (c *Client) Summary(ctx context.Context, _ int) (*storage.SessionStats, error) {
	var st storage.SessionStats
	if err := c.do(ctx, http.MethodGet, sessionsPath+"/summary", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Progress reports where a session stands.
func (c *Client) Progress(ctx context.Context, _ int, ref string) (*session.Progress, error) {
	var p session.Progress
	if err := c.do(ctx, http.MethodGet, sessionPath(ref, "progress"), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CurrentPolicy returns the server's staleness policy.
func (c *Client) CurrentPolicy(ctx context.Context) (policy.Policy, error) {
	var p policy.Policy
	err := c.do(ctx, http.MethodGet, "/api/policy", nil, nil, &p)
	return p, err
}

// LogSet records or replaces set setNo of an exercise.
func (c *Client) LogSet(ctx context.Context, ref, exerciseID string, setNo int, in session.SetInput) (*session.LogSetResult, error) {
	var res session.LogSetResult
	path := sessionPath(ref, "exercises", exerciseID, "sets", strconv.Itoa(setNo))
	if err := c.do(ctx, http.MethodPatch, path, nil, in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Complete finishes a session.
func (c *Client) Complete(ctx context.Context, ref string, in session.CompleteInput) (*session.CompletionSummary, error) {
	var sum session.CompletionSummary
	if err := c.do(ctx, http.MethodPost, sessionPath(ref, "complete"), nil, in, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Abandon closes a session as abandoned.
func (c *Client) Abandon(ctx context.Context, ref, reason string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodPut, sessionPath(ref, "abandon"), map[string]string{"reason": reason})
}

// Cancel closes a session as cancelled.
func (c *Client) Cancel(ctx context.Context, ref, reason string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodDelete, sessionPath(ref), map[string]string{"reason": reason})
}

// Resolve applies "resume" or "abandon" to an open session.
func (c *Client) Resolve(ctx context.Context, ref, choice string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(ref, "resolve"), map[string]string{"choice": choice})
}

// AddExercise appends an exercise to a session.
func (c *Client) AddExercise(ctx context.Context, ref string, in session.ExerciseInput) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(ref, "exercises"), in)
}

// Next moves the exercise cursor forward.
func (c *Client) Next(ctx context.Context, ref string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(ref, "next"), nil)
}

// Previous moves the exercise cursor back.
func (c *Client) Previous(ctx context.Context, ref string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(ref, "previous"), nil)
}

// Pause pauses an in-progress session.
func (c *Client) Pause(ctx context.Context, ref string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(ref, "pause"), nil)
}

// Resume continues a paused session.
func (c *Client) Resume(ctx context.Context, ref string) (*models.WorkoutSession, error) {
	return c.sessionCall(ctx, http.MethodPost, sessionPath(ref, "resume"), nil)
}

func (c *Client) sessionCall(ctx context.Context, method, path string, in any) (*models.WorkoutSession, error) {
	var s models.WorkoutSession
	if err := c.do(ctx, method, path, nil, in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// IsNotFound reports whether err means the server had nothing to return.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
