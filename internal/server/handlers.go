package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/session"
	"github.com/claude/fitforge/internal/storage"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Policy())
}

type startResponse struct {
	SessionID          string                 `json:"session_id"`
	LegacyID           int                    `json:"legacy_id"`
	StartTime          time.Time              `json:"start_time"`
	AbandonedSessionID string                 `json:"abandoned_session_id,omitempty"`
	Session            *models.WorkoutSession `json:"session"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.sessions.Start(r.Context(), userIDFromContext(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		SessionID:          res.Session.ID,
		LegacyID:           res.Session.LegacyID,
		StartTime:          res.Session.StartTime,
		AbandonedSessionID: res.AbandonedSessionID,
		Session:            res.Session,
	})
}

func (s *Server) handleCheckConflict(w http.ResponseWriter, r *http.Request) {
	d, err := s.sessions.CheckConflict(r.Context(), userIDFromContext(r), r.URL.Query().Get("workout_type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	active, err := s.sessions.Active(r.Context(), userIDFromContext(r))
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sessions, err := s.sessions.History(r.Context(), userIDFromContext(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.Summary(r.Context(), userIDFromContext(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.sessions.Progress(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAddExercise(w http.ResponseWriter, r *http.Request) {
	var in session.ExerciseInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.AddExercise(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogSet(w http.ResponseWriter, r *http.Request) {
	setNo, err := strconv.Atoi(chi.URLParam(r, "setNo"))
	if err != nil {
		s.writeError(w, r, models.NewValidationError("set_no", "must be an integer"))
		return
	}
	var in session.SetInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.sessions.LogSet(r.Context(), userIDFromContext(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "exId"), setNo, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNextExercise(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.NextExercise(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"))
	s.writeSession(w, r, sess, err)
}

func (s *Server) handlePreviousExercise(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.PreviousExercise(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"))
	s.writeSession(w, r, sess, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Pause(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"))
	s.writeSession(w, r, sess, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Resume(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"))
	s.writeSession(w, r, sess, err)
}

type resolveRequest struct {
	Choice string `json:"choice"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.ResolveConflict(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"), req.Choice)
	s.writeSession(w, r, sess, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var in session.CompleteInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.sessions.Complete(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Abandon(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"), req.Reason)
	s.writeSession(w, r, sess, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Cancel(r.Context(), userIDFromContext(r), chi.URLParam(r, "id"), req.Reason)
	s.writeSession(w, r, sess, err)
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, sess *models.WorkoutSession, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflictErr *session.ConflictError
	var validationErr *models.ValidationError
	switch {
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "active session conflict",
			"conflict": conflictErr.Decision,
		})
	case errors.Is(err, session.ErrResolverUnavailable):
		s.log.Error("conflict resolver unavailable", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session check unavailable, retry shortly"})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation failed",
			"details": validationErr.Fields,
		})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, storage.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, storage.ErrActiveSessionExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": storage.ErrActiveSessionExists.Error()})
	case errors.Is(err, session.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched; unknown fields are rejected.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return models.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

// parseFilter reads status, start, end, limit and offset from the query.
func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	v := &models.ValidationError{}
	f := storage.Filter{Limit: defaultListLimit}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := models.ParseStatus(part)
			if err != nil {
				v.Add("status", err.Error())
				continue
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("start"); raw != "" {
		t, _, err := parseTime(raw)
		if err != nil {
			v.Add("start", "must be RFC3339 or YYYY-MM-DD")
		}
		f.Start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, dateOnly, err := parseTime(raw)
		if err != nil {
			v.Add("end", "must be RFC3339 or YYYY-MM-DD")
		}
		// End of day for date-only
		if dateOnly {
			t = t.Add(24 * time.Hour)
		}
		f.End = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			v.Add("limit", "must be between 1 and "+strconv.Itoa(maxListLimit))
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			v.Add("offset", "must be >= 0")
		}
		f.Offset = n
	}
	return f, v.Err()
}

func parseTime(s string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err = time.Parse(time.DateOnly, s)
	return t, err == nil, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
