package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/claude/fitforge/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) policy(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	p, err := h.ds.CurrentPolicy(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, p)
}

func (h *handlers) recentSessions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uid := UserIDFromContext(ctx)
	end := time.Now()
	start := end.AddDate(0, 0, -14)

	sessions, err := h.ds.History(ctx, uid, storage.Filter{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, sessions)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
