package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/claude/fitforge/internal/models"
	_ "modernc.org/sqlite"
)

// Mirror keeps the last server-confirmed snapshot of the active session per
// server, so a CLI can show the workout after a restart without a round trip.
// It is never authoritative: callers write to it only after the server has
// accepted a mutation.
type Mirror struct {
	db *sql.DB
}

// OpenMirror opens (or creates) the mirror database at dir/mirror.db.
func OpenMirror(dir string) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mirror dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "mirror.db"))
	if err != nil {
		return nil, fmt.Errorf("opening mirror db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS active_sessions (
		server     TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		doc        TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating mirror table: %w", err)
	}

	return &Mirror{db: db}, nil
}

// Save records s as the active session for server. A session in a terminal
// status clears the entry instead.
func (m *Mirror) Save(ctx context.Context, server string, s *models.WorkoutSession) error {
	if s == nil || s.Status.Terminal() {
		return m.Clear(ctx, server)
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO active_sessions (server, session_id, doc, updated_at) VALUES (?, ?, ?, ?)`,
		server, s.ID, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving mirror for %s: %w", server, err)
	}
	return nil
}

// Load returns the mirrored session for server, or nil when there is none.
func (m *Mirror) Load(ctx context.Context, server string) (*models.WorkoutSession, error) {
	var doc string
	err := m.db.QueryRowContext(ctx,
		`SELECT doc FROM active_sessions WHERE server = ?`, server,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading mirror for %s: %w", server, err)
	}
	var s models.WorkoutSession
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return nil, fmt.Errorf("decoding mirror for %s: %w", server, err)
	}
	return &s, nil
}

// Clear removes the entry for server.
func (m *Mirror) Clear(ctx context.Context, server string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE server = ?`, server)
	if err != nil {
		return fmt.Errorf("clearing mirror for %s: %w", server, err)
	}
	return nil
}

// Close closes the mirror database.
func (m *Mirror) Close() error {
	return m.db.Close()
}
