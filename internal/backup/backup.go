// Package backup writes point-in-time JSON snapshots of every user's
// workout sessions and prunes old ones.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/storage"
)

const dayLayout = "2006-01-02"

// Source is the part of storage.Store a backup reads.
type Source interface {
	ListUserIDs(ctx context.Context) ([]int, error)
	ListSessions(ctx context.Context, userID int, f storage.Filter) ([]models.WorkoutSession, error)
}

// Result describes one backup run.
type Result struct {
	Users    int
	Sessions int
	Files    []string
}

// snapshot is the on-disk shape of one backup file.
type snapshot struct {
	UserID    int                     `json:"user_id"`
	CreatedAt time.Time               `json:"created_at"`
	Sessions  []models.WorkoutSession `json:"sessions"`
}

// Run writes <dir>/<YYYY-MM-DD>/users/<id>/workouts-<HHMMSS>.json for every
// user, using now (UTC) for the date and time parts.
func Run(ctx context.Context, src Source, dir string, now time.Time) (Result, error) {
	now = now.UTC()
	var res Result

	users, err := src.ListUserIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("listing users: %w", err)
	}

	day := filepath.Join(dir, now.Format(dayLayout), "users")
	for _, uid := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sessions, err := src.ListSessions(ctx, uid, storage.Filter{})
		if err != nil {
			return res, fmt.Errorf("listing sessions for user %d: %w", uid, err)
		}
		if sessions == nil {
			sessions = []models.WorkoutSession{}
		}

		userDir := filepath.Join(day, strconv.Itoa(uid))
		if err := os.MkdirAll(userDir, 0o755); err != nil {
			return res, fmt.Errorf("creating %s: %w", userDir, err)
		}
		path := filepath.Join(userDir, "workouts-"+now.Format("150405")+".json")
		data, err := json.MarshalIndent(snapshot{UserID: uid, CreatedAt: now, Sessions: sessions}, "", "  ")
		if err != nil {
			return res, fmt.Errorf("encoding backup for user %d: %w", uid, err)
		}
		if err := writeFile(path, data); err != nil {
			return res, err
		}

		res.Users++
		res.Sessions += len(sessions)
		res.Files = append(res.Files, path)
	}
	return res, nil
}

// writeFile writes through a temp file so a crash never leaves a torn backup.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming backup into place: %w", err)
	}
	return nil
}

// Prune removes dated directories under dir older than keepDays before
// now. Entries that are not YYYY-MM-DD directories are left alone.
// A non-positive keepDays keeps everything.
func Prune(dir string, keepDays int, now time.Time) ([]string, error) {
	if keepDays <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, -keepDays)

	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse(dayLayout, e.Name())
		if err != nil || !day.Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	sort.Strings(removed)
	return removed, nil
}
