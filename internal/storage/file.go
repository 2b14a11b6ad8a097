package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/claude/fitforge/internal/keylock"
	"github.com/claude/fitforge/internal/models"
)

const (
	sessionsFileName = "workouts.json"
	sessionsLockName = "workouts.lock"
	usersFileName    = "users.json"
	usersLockName    = "users.lock"
)

// FileStore keeps one JSON array of sessions per user under
// <dir>/users/<id>/workouts.json.
//
// Writes for a user hold an in-process mutex and a flock on the user's
// directory and replace the file with an atomic rename. Reads are lock
// free: they always see a complete file.
type FileStore struct {
	dir   string
	locks keylock.Map[int]
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: data directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "users"), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root data directory.
func (fs *FileStore) Dir() string { return fs.dir }

func (fs *FileStore) userDir(userID int) string {
	return filepath.Join(fs.dir, "users", strconv.Itoa(userID))
}

// withUser runs fn while holding both the in-process and the file lock for userID.
func (fs *FileStore) withUser(userID int, fn func() error) error {
	unlock := fs.locks.Lock(userID)
	defer unlock()

	dir := fs.userDir(userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating user directory: %w", err)
	}
	fl := newFileLock(filepath.Join(dir, sessionsLockName))
	if err := fl.Lock(); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

// loadSessions reads a user's sessions. A missing file is an empty list.
func (fs *FileStore) loadSessions(userID int) ([]models.WorkoutSession, error) {
	path := filepath.Join(fs.userDir(userID), sessionsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.WorkoutSession{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var sessions []models.WorkoutSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if sessions == nil {
		sessions = []models.WorkoutSession{}
	}
	return sessions, nil
}

func (fs *FileStore) saveSessions(userID int, sessions []models.WorkoutSession) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sessions: %w", err)
	}
	return atomicWriteFile(filepath.Join(fs.userDir(userID), sessionsFileName), data, 0o644)
}

// CreateSession appends s to the user's file.
func (fs *FileStore) CreateSession(ctx context.Context, s *models.WorkoutSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareNew(s); err != nil {
		return err
	}
	return fs.withUser(s.UserID, func() error {
		sessions, err := fs.loadSessions(s.UserID)
		if err != nil {
			return err
		}
		maxLegacy := 0
		for _, e := range sessions {
			if e.ID == s.ID {
				return fmt.Errorf("session %s already exists", s.ID)
			}
			if s.Status == models.StatusInProgress && e.Status == models.StatusInProgress {
				return ErrActiveSessionExists
			}
			maxLegacy = max(maxLegacy, e.LegacyID)
		}
		if s.LegacyID == 0 {
			s.LegacyID = maxLegacy + 1
		}
		sessions = append(sessions, *s)
		return fs.saveSessions(s.UserID, sessions)
	})
}

// GetSession finds a session by UUID or legacy number.
func (fs *FileStore) GetSession(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	sessions, err := fs.loadSessions(userID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if r.matches(&sessions[i]) {
			return &sessions[i], nil
		}
	}
	return nil, fs.missing(userID, r)
}

// missing distinguishes "no such session" from "someone else's session".
func (fs *FileStore) missing(userID int, r sessionRef) error {
	if r.id == "" {
		return ErrNotFound
	}
	ids, err := fs.sessionUserIDs()
	if err != nil {
		return ErrNotFound
	}
	for _, uid := range ids {
		if uid == userID {
			continue
		}
		sessions, err := fs.loadSessions(uid)
		if err != nil {
			continue
		}
		for i := range sessions {
			if sessions[i].ID == r.id {
				return ErrForbidden
			}
		}
	}
	return ErrNotFound
}

// UpdateSession applies fn to a copy of the session and writes it back.
func (fs *FileStore) UpdateSession(ctx context.Context, userID int, ref string, fn UpdateFunc) (*models.WorkoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	var updated *models.WorkoutSession
	notFound := false
	err = fs.withUser(userID, func() error {
		sessions, err := fs.loadSessions(userID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range sessions {
			if r.matches(&sessions[i]) {
				idx = i
				break
			}
		}
		if idx < 0 {
			notFound = true
			return nil
		}

		before := &sessions[idx]
		cur := before.Clone()
		if err := fn(cur); err != nil {
			return err
		}
		if err := checkIdentity(before, cur); err != nil {
			return err
		}
		if cur.Status == models.StatusInProgress && before.Status != models.StatusInProgress {
			for i, e := range sessions {
				if i != idx && e.Status == models.StatusInProgress {
					return ErrActiveSessionExists
				}
			}
		}

		sessions[idx] = *cur
		if err := fs.saveSessions(userID, sessions); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, fs.missing(userID, r)
	}
	return updated, nil
}

// ListSessions returns the user's sessions matching f, newest first.
func (fs *FileStore) ListSessions(ctx context.Context, userID int, f Filter) ([]models.WorkoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessions, err := fs.loadSessions(userID)
	if err != nil {
		return nil, err
	}
	return applyFilter(sessions, f), nil
}

// ActiveSessions returns the user's in_progress sessions, newest first.
func (fs *FileStore) ActiveSessions(ctx context.Context, userID int) ([]models.WorkoutSession, error) {
	return fs.ListSessions(ctx, userID, Filter{Statuses: []models.Status{models.StatusInProgress}})
}

// ImportSession inserts s unless a session with the same ID exists.
// A legacy number already taken by another session is reassigned.
func (fs *FileStore) ImportSession(ctx context.Context, s *models.WorkoutSession) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := prepareNew(s); err != nil {
		return false, err
	}
	inserted := false
	err := fs.withUser(s.UserID, func() error {
		sessions, err := fs.loadSessions(s.UserID)
		if err != nil {
			return err
		}
		maxLegacy := 0
		legacyTaken := false
		for _, e := range sessions {
			if e.ID == s.ID {
				return nil
			}
			if s.Status == models.StatusInProgress && e.Status == models.StatusInProgress {
				return ErrActiveSessionExists
			}
			if s.LegacyID != 0 && e.LegacyID == s.LegacyID {
				legacyTaken = true
			}
			maxLegacy = max(maxLegacy, e.LegacyID)
		}
		if s.LegacyID == 0 || legacyTaken {
			s.LegacyID = maxLegacy + 1
		}
		sessions = append(sessions, *s)
		if err := fs.saveSessions(s.UserID, sessions); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// Stats aggregates the user's sessions.
func (fs *FileStore) Stats(ctx context.Context, userID int) (*SessionStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessions, err := fs.loadSessions(userID)
	if err != nil {
		return nil, err
	}
	return computeStats(sessions), nil
}

// sessionUserIDs lists numeric user directories.
func (fs *FileStore) sessionUserIDs() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dir, "users"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading users directory: %w", err)
	}
	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if id, err := strconv.Atoi(e.Name()); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ListUserIDs returns users with a session directory or a user record.
func (fs *FileStore) ListUserIDs(ctx context.Context) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := fs.sessionUserIDs()
	if err != nil {
		return nil, err
	}
	users, err := fs.loadUsers()
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(ids)+len(users))
	var out []int
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, u := range users {
		if !seen[u.ID] {
			seen[u.ID] = true
			out = append(out, u.ID)
		}
	}
	sort.Ints(out)
	return out, nil
}

// userRecord is one entry of users.json.
type userRecord struct {
	ID          int       `json:"id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

func (fs *FileStore) loadUsers() ([]userRecord, error) {
	path := filepath.Join(fs.dir, usersFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var users []userRecord
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return users, nil
}

// GetOrCreateUser finds or creates a user by login and returns its id.
// The dev login "local" is always user 1.
func (fs *FileStore) GetOrCreateUser(ctx context.Context, login, displayName string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if login == "" {
		return 0, models.NewValidationError("login", "is required")
	}

	// User 0 never owns sessions, so its lock slot guards the user index.
	unlock := fs.locks.Lock(0)
	defer unlock()
	fl := newFileLock(filepath.Join(fs.dir, usersLockName))
	if err := fl.Lock(); err != nil {
		return 0, err
	}
	defer func() { _ = fl.Unlock() }()

	users, err := fs.loadUsers()
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if len(users) == 0 {
		users = append(users, userRecord{ID: 1, Login: "local", DisplayName: "Local Dev User", CreatedAt: now, LastSeen: now})
	}

	id, maxID := 0, 0
	for i := range users {
		maxID = max(maxID, users[i].ID)
		if users[i].Login == login {
			id = users[i].ID
			users[i].LastSeen = now
			if displayName != "" {
				users[i].DisplayName = displayName
			}
		}
	}
	if id == 0 {
		id = maxID + 1
		users = append(users, userRecord{ID: id, Login: login, DisplayName: displayName, CreatedAt: now, LastSeen: now})
	}

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshaling users: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(fs.dir, usersFileName), data, 0o644); err != nil {
		return 0, err
	}
	return id, nil
}

// Close is a no-op; every operation opens and closes its own files.
func (fs *FileStore) Close() error { return nil }
