package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/claude/fitforge/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no session matches a reference.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden is returned when a session exists but belongs to another user.
	ErrForbidden = errors.New("session belongs to another user")
	// ErrActiveSessionExists is returned when a write would leave a user with
	// two in_progress sessions.
	ErrActiveSessionExists = errors.New("user already has an in-progress session")
)

// Filter narrows ListSessions. Zero values mean "no constraint".
type Filter struct {
	Statuses []models.Status
	Start    time.Time // inclusive lower bound on start_time
	End      time.Time // exclusive upper bound on start_time
	Limit    int
	Offset   int
}

// UpdateFunc mutates a session in place. Returning an error aborts the
// update without writing anything.
type UpdateFunc func(s *models.WorkoutSession) error

// Store persists workout sessions.
//
// Every backend enforces the one-in-progress-session-per-user invariant
// atomically: CreateSession and UpdateSession fail with
// ErrActiveSessionExists instead of writing a second in_progress row.
type Store interface {
	// CreateSession inserts s, assigning ID and LegacyID when empty.
	CreateSession(ctx context.Context, s *models.WorkoutSession) error
	// GetSession looks up a session by UUID or per-user legacy number.
	GetSession(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error)
	// UpdateSession performs an atomic read-modify-write and returns the stored result.
	UpdateSession(ctx context.Context, userID int, ref string, fn UpdateFunc) (*models.WorkoutSession, error)
	// ListSessions returns a user's sessions, newest start_time first.
	ListSessions(ctx context.Context, userID int, f Filter) ([]models.WorkoutSession, error)
	// ActiveSessions returns the user's in_progress sessions.
	ActiveSessions(ctx context.Context, userID int) ([]models.WorkoutSession, error)
	// ImportSession inserts s unless its ID already exists. Returns true if inserted.
	ImportSession(ctx context.Context, s *models.WorkoutSession) (bool, error)
	// Stats summarizes a user's sessions.
	Stats(ctx context.Context, userID int) (*SessionStats, error)
	// ListUserIDs returns every user that has sessions or a user record.
	ListUserIDs(ctx context.Context) ([]int, error)
	// GetOrCreateUser maps a login to a numeric user id.
	GetOrCreateUser(ctx context.Context, login, displayName string) (int, error)
	Close() error
}

// Options selects and configures a Store backend.
type Options struct {
	Driver  string // "file" or "postgres"
	DataDir string
	DSN     string
	// Migrations, when set, is the directory of SQL migrations applied
	// before a postgres store is opened.
	Migrations string
}

// Open returns the Store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		return NewFileStore(opts.DataDir)
	case "postgres":
		if opts.Migrations != "" {
			if err := RunMigrations(opts.DSN, opts.Migrations); err != nil {
				return nil, err
			}
		}
		return New(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// sessionRef is a parsed session reference: either a UUID or a legacy number.
type sessionRef struct {
	id     string
	legacy int
}

// parseRef accepts a UUID or a positive integer legacy id.
func parseRef(ref string) (sessionRef, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return sessionRef{id: id.String()}, nil
	}
	if n, err := strconv.Atoi(ref); err == nil && n > 0 {
		return sessionRef{legacy: n}, nil
	}
	return sessionRef{}, models.NewValidationError("id", "must be a session UUID or a positive legacy number")
}

func (r sessionRef) matches(s *models.WorkoutSession) bool {
	if r.id != "" {
		return s.ID == r.id
	}
	return s.LegacyID == r.legacy
}

// prepareNew fills identity fields and validates a session before insert.
func prepareNew(s *models.WorkoutSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	} else if _, err := uuid.Parse(s.ID); err != nil {
		return models.NewValidationError("id", "must be a UUID")
	}
	if s.UserID <= 0 {
		return models.NewValidationError("user_id", "must be > 0")
	}
	if !s.Status.Valid() {
		return models.NewValidationError("status", "is invalid")
	}
	if s.StartTime.IsZero() {
		return models.NewValidationError("start_time", "is required")
	}
	if s.Exercises == nil {
		s.Exercises = []models.ExerciseLog{}
	}
	return nil
}

// checkIdentity rejects update functions that rewrite a session's identity.
func checkIdentity(before, after *models.WorkoutSession) error {
	if before.ID != after.ID || before.UserID != after.UserID || before.LegacyID != after.LegacyID {
		return fmt.Errorf("session %s: identity fields are immutable", before.ID)
	}
	if !after.Status.Valid() {
		return models.NewValidationError("status", "is invalid")
	}
	return nil
}

// applyFilter filters and orders sessions in memory, newest first.
func applyFilter(in []models.WorkoutSession, f Filter) []models.WorkoutSession {
	out := make([]models.WorkoutSession, 0, len(in))
	for _, s := range in {
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, s.Status) {
			continue
		}
		if !f.Start.IsZero() && s.StartTime.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && !s.StartTime.Before(f.End) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.WorkoutSession{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

func hasStatus(list []models.Status, st models.Status) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}
