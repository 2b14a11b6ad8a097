package mcp

import (
	"context"

	"github.com/claude/fitforge/internal/client"
	"github.com/claude/fitforge/internal/conflict"
	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/policy"
	"github.com/claude/fitforge/internal/session"
	"github.com/claude/fitforge/internal/storage"
)

// DataSource abstracts the session layer for MCP tools. Both *session.Manager
// (local store) and *client.Client (remote via REST API) satisfy it.
type DataSource interface {
	Active(ctx context.Context, userID int) (*session.ActiveSession, error)
	CheckConflict(ctx context.Context, userID int, workoutType string) (conflict.Decision, error)
	History(ctx context.Context, userID int, f storage.Filter) ([]models.WorkoutSession, error)
	Progress(ctx context.Context, userID int, ref string) (*session.Progress, error)
	Summary(ctx context.Context, userID int) (*storage.SessionStats, error)
	CurrentPolicy(ctx context.Context) (policy.Policy, error)
}

var (
	_ DataSource = (*session.Manager)(nil)
	_ DataSource = (*client.Client)(nil)
)
