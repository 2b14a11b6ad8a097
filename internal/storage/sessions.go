package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/claude/fitforge/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation = "23505"
	oneActiveIndex       = "workout_sessions_one_active"
)

// mapPgError turns the one-active-session index violation into ErrActiveSessionExists.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation && pgErr.ConstraintName == oneActiveIndex {
		return ErrActiveSessionExists
	}
	return err
}

// nextLegacyID serializes legacy numbering per user for the rest of tx.
func nextLegacyID(ctx context.Context, tx pgx.Tx, userID int) (int, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(userID)); err != nil {
		return 0, fmt.Errorf("locking user %d: %w", userID, err)
	}
	var next int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(legacy_id), 0) + 1 FROM workout_sessions WHERE user_id = $1`,
		userID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocating legacy id: %w", err)
	}
	return next, nil
}

// CreateSession inserts a session row. The partial unique index rejects a
// second in_progress session for the same user.
func (db *DB) CreateSession(ctx context.Context, s *models.WorkoutSession) error {
	if err := prepareNew(s); err != nil {
		return err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.LegacyID == 0 {
		if s.LegacyID, err = nextLegacyID(ctx, tx, s.UserID); err != nil {
			return err
		}
	}

	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO workout_sessions (id, user_id, legacy_id, status, workout_type, start_time, doc)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.UserID, s.LegacyID, string(s.Status), s.WorkoutType, s.StartTime, doc)
	if err != nil {
		return fmt.Errorf("inserting session: %w", mapPgError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing session: %w", mapPgError(err))
	}
	return nil
}

// selectSession builds the lookup for a reference. UUID lookups ignore the
// owner so a foreign session can be reported as forbidden.
func selectSession(userID int, r sessionRef, forUpdate bool) (string, []any) {
	q := `SELECT user_id, doc FROM workout_sessions WHERE `
	var args []any
	if r.id != "" {
		q += `id = $1`
		args = []any{r.id}
	} else {
		q += `user_id = $1 AND legacy_id = $2`
		args = []any{userID, r.legacy}
	}
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return q, args
}

func scanSession(row pgx.Row, userID int) (*models.WorkoutSession, error) {
	var owner int
	var doc []byte
	if err := row.Scan(&owner, &doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}
	if owner != userID {
		return nil, ErrForbidden
	}
	var s models.WorkoutSession
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &s, nil
}

// GetSession retrieves a session by UUID or legacy number.
func (db *DB) GetSession(ctx context.Context, userID int, ref string) (*models.WorkoutSession, error) {
	r, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	q, args := selectSession(userID, r, false)
	return scanSession(db.Pool.QueryRow(ctx, q, args...), userID)
}

// UpdateSession locks the row, applies fn and writes the result in one transaction.
func (db *DB) UpdateSession(ctx context.Context, userID int, ref string, fn UpdateFunc) (*models.WorkoutSession, error) {
	r, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q, args := selectSession(userID, r, true)
	before, err := scanSession(tx.QueryRow(ctx, q, args...), userID)
	if err != nil {
		return nil, err
	}
	cur := before.Clone()
	if err := fn(cur); err != nil {
		return nil, err
	}
	if err := checkIdentity(before, cur); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE workout_sessions
		 SET status = $2, workout_type = $3, start_time = $4, doc = $5, updated_at = NOW()
		 WHERE id = $1`,
		cur.ID, string(cur.Status), cur.WorkoutType, cur.StartTime, doc)
	if err != nil {
		return nil, fmt.Errorf("updating session %s: %w", cur.ID, mapPgError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing session %s: %w", cur.ID, mapPgError(err))
	}
	return cur, nil
}

// listQuery builds the filtered session listing for a user.
func listQuery(userID int, f Filter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT doc FROM workout_sessions WHERE user_id = $1`)
	args := []any{userID}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		fmt.Fprintf(&sb, ` AND status = ANY($%d)`, len(args))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
		fmt.Fprintf(&sb, ` AND start_time >= $%d`, len(args))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		fmt.Fprintf(&sb, ` AND start_time < $%d`, len(args))
	}
	sb.WriteString(` ORDER BY start_time DESC`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
	}
	return sb.String(), args
}

// ListSessions retrieves a user's sessions matching f, newest first.
func (db *DB) ListSessions(ctx context.Context, userID int, f Filter) ([]models.WorkoutSession, error) {
	q, args := listQuery(userID, f)
	rows, err := db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	result := []models.WorkoutSession{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		var s models.WorkoutSession
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("decoding session: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// ActiveSessions returns the user's in_progress sessions.
func (db *DB) ActiveSessions(ctx context.Context, userID int) ([]models.WorkoutSession, error) {
	return db.ListSessions(ctx, userID, Filter{Statuses: []models.Status{models.StatusInProgress}})
}

// ImportSession inserts a session unless its ID exists. Returns true if inserted.
// A legacy number already taken for the user is reassigned.
func (db *DB) ImportSession(ctx context.Context, s *models.WorkoutSession) (bool, error) {
	if err := prepareNew(s); err != nil {
		return false, err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workout_sessions WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking session %s: %w", s.ID, err)
	}
	if exists {
		return false, nil
	}

	next, err := nextLegacyID(ctx, tx, s.UserID)
	if err != nil {
		return false, err
	}
	if s.LegacyID == 0 {
		s.LegacyID = next
	} else {
		var taken bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workout_sessions WHERE user_id = $1 AND legacy_id = $2)`,
			s.UserID, s.LegacyID).Scan(&taken); err != nil {
			return false, fmt.Errorf("checking legacy id: %w", err)
		}
		if taken {
			s.LegacyID = next
		}
	}

	doc, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("marshaling session: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO workout_sessions (id, user_id, legacy_id, status, workout_type, start_time, doc)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.UserID, s.LegacyID, string(s.Status), s.WorkoutType, s.StartTime, doc)
	if err != nil {
		return false, fmt.Errorf("importing session %s: %w", s.ID, mapPgError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing import: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
