package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// defaultTimeRange returns start/end defaulting to the last days days.
func defaultTimeRange(startStr, endStr string, days int) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -days)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// parseStatuses splits a comma list of statuses, accepting the usual aliases.
func parseStatuses(s string) ([]models.Status, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []models.Status
	for _, part := range strings.Split(s, ",") {
		st, err := models.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// --- Tool definitions ---

var toolGetActiveSession = mcp.NewTool("get_active_session",
	mcp.WithDescription("Return the user's open (in_progress) workout session with its staleness: idle minutes, warning level, and whether it would be auto-abandoned."),
)

var toolCheckSessionConflict = mcp.NewTool("check_session_conflict",
	mcp.WithDescription("Preview what starting a new workout would do without changing anything. Action is none, auto_abandon, user_decision_required, or unknown."),
	mcp.WithString("workout_type", mcp.Description("Workout type the user wants to start (e.g. push, legs)")),
)

var toolListSessions = mcp.NewTool("list_sessions",
	mcp.WithDescription("List workout sessions newest first, optionally filtered by status and start date."),
	mcp.WithString("status", mcp.Description("Comma-separated statuses: in_progress, paused, completed, abandoned, cancelled")),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithNumber("limit", mcp.Description("Maximum sessions to return. Defaults to 20.")),
)

var toolGetSessionProgress = mcp.NewTool("get_session_progress",
	mcp.WithDescription("Progress of one session: current exercise, completed sets, total volume, elapsed minutes, and staleness."),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session UUID or legacy numeric id")),
)

var toolGetSessionSummary = mcp.NewTool("get_session_summary",
	mcp.WithDescription("Session counts per status, per workout type, and total volume of completed sessions."),
)

// --- Tool handlers ---

func (h *handlers) getActiveSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := UserIDFromContext(ctx)
	active, err := h.ds.Active(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return jsonResult(map[string]any{"active": false})
	}
	if err != nil {
		h.log.Error("mcp get_active_session", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(active)
}

func (h *handlers) checkSessionConflict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := UserIDFromContext(ctx)
	d, err := h.ds.CheckConflict(ctx, uid, req.GetString("workout_type", ""))
	if err != nil {
		h.log.Error("mcp check_session_conflict", "error", err)
		return mcp.NewToolResultError("conflict check failed: " + err.Error()), nil
	}
	return jsonResult(d)
}

func (h *handlers) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""), 30)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}
	statuses, err := parseStatuses(req.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}

	uid := UserIDFromContext(ctx)
	sessions, err := h.ds.History(ctx, uid, storage.Filter{
		Statuses: statuses,
		Start:    start,
		End:      end,
		Limit:    limit,
	})
	if err != nil {
		h.log.Error("mcp list_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if sessions == nil {
		sessions = []models.WorkoutSession{}
	}
	return jsonResult(sessions)
}

func (h *handlers) getSessionProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	uid := UserIDFromContext(ctx)
	p, err := h.ds.Progress(ctx, uid, ref)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return mcp.NewToolResultError("session not found"), nil
	case errors.Is(err, storage.ErrForbidden):
		return mcp.NewToolResultError("session belongs to another user"), nil
	case err != nil:
		h.log.Error("mcp get_session_progress", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(p)
}

func (h *handlers) getSessionSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := UserIDFromContext(ctx)
	st, err := h.ds.Summary(ctx, uid)
	if err != nil {
		h.log.Error("mcp get_session_summary", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(st)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
