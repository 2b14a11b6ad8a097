// Package mcp exposes read-only workout session tools over the Model
// Context Protocol.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("FitForge", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("FitForge workout session server. Inspect the open workout, preview what starting a new one would do, and browse session history. All data is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolGetActiveSession, Handler: h.getActiveSession},
		server.ServerTool{Tool: toolCheckSessionConflict, Handler: h.checkSessionConflict},
		server.ServerTool{Tool: toolListSessions, Handler: h.listSessions},
		server.ServerTool{Tool: toolGetSessionProgress, Handler: h.getSessionProgress},
		server.ServerTool{Tool: toolGetSessionSummary, Handler: h.getSessionSummary},
	)

	s.AddResources(
		server.ServerResource{Resource: resPolicy, Handler: h.policy},
		server.ServerResource{Resource: resRecentSessions, Handler: h.recentSessions},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resPolicy = mcp.NewResource(
	"fitforge://policy",
	"Staleness Policy",
	mcp.WithResourceDescription("Idle thresholds (minutes) for warnings and automatic abandonment of open sessions"),
	mcp.WithMIMEType("application/json"),
)

var resRecentSessions = mcp.NewResource(
	"fitforge://recent_sessions",
	"Recent Sessions",
	mcp.WithResourceDescription("Workout sessions started in the last 14 days"),
	mcp.WithMIMEType("application/json"),
)
