package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/claude/fitforge/internal/models"
)

// SessionStats holds aggregate statistics about a user's sessions.
type SessionStats struct {
	TotalSessions    int64                   `json:"total_sessions"`
	ByStatus         map[models.Status]int64 `json:"by_status"`
	CompletedVolume  float64                 `json:"completed_volume"`
	CompletedMinutes int64                   `json:"completed_minutes"`
	EarliestSession  *time.Time              `json:"earliest_session"`
	LatestSession    *time.Time              `json:"latest_session"`
	WorkoutsByType   []WorkoutTypeStat       `json:"workouts_by_type"`
}

// WorkoutTypeStat holds completed-session totals for one workout type.
type WorkoutTypeStat struct {
	Name        string  `json:"name"`
	Count       int64   `json:"count"`
	TotalVolume float64 `json:"total_volume"`
}

// computeStats aggregates sessions in memory.
func computeStats(sessions []models.WorkoutSession) *SessionStats {
	stats := &SessionStats{ByStatus: map[models.Status]int64{}}
	byType := map[string]*WorkoutTypeStat{}

	for _, s := range sessions {
		stats.TotalSessions++
		stats.ByStatus[s.Status]++

		start := s.StartTime
		if stats.EarliestSession == nil || start.Before(*stats.EarliestSession) {
			stats.EarliestSession = &start
		}
		if stats.LatestSession == nil || start.After(*stats.LatestSession) {
			stats.LatestSession = &start
		}

		if s.Status != models.StatusCompleted {
			continue
		}
		stats.CompletedVolume += s.TotalVolume
		if s.DurationMinutes != nil {
			stats.CompletedMinutes += int64(*s.DurationMinutes)
		}
		ts, ok := byType[s.WorkoutType]
		if !ok {
			ts = &WorkoutTypeStat{Name: s.WorkoutType}
			byType[s.WorkoutType] = ts
		}
		ts.Count++
		ts.TotalVolume += s.TotalVolume
	}

	for _, ts := range byType {
		stats.WorkoutsByType = append(stats.WorkoutsByType, *ts)
	}
	sort.Slice(stats.WorkoutsByType, func(i, j int) bool {
		a, b := stats.WorkoutsByType[i], stats.WorkoutsByType[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})
	return stats
}

// Stats returns aggregate statistics for a user's sessions.
func (db *DB) Stats(ctx context.Context, userID int) (*SessionStats, error) {
	stats := &SessionStats{ByStatus: map[models.Status]int64{}}

	rows, err := db.Pool.Query(ctx,
		`SELECT status, COUNT(*) FROM workout_sessions WHERE user_id = $1 GROUP BY status`, userID)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning session counts: %w", err)
		}
		stats.ByStatus[models.Status(status)] = n
		stats.TotalSessions += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.Pool.QueryRow(ctx,
		`SELECT MIN(start_time), MAX(start_time),
		 COALESCE(SUM((doc->>'total_volume')::float8) FILTER (WHERE status = 'completed'), 0),
		 COALESCE(SUM((doc->>'duration_minutes')::int) FILTER (WHERE status = 'completed'), 0)
		 FROM workout_sessions WHERE user_id = $1`, userID,
	).Scan(&stats.EarliestSession, &stats.LatestSession, &stats.CompletedVolume, &stats.CompletedMinutes)
	if err != nil {
		return nil, fmt.Errorf("querying session range: %w", err)
	}

	typeRows, err := db.Pool.Query(ctx,
		`SELECT workout_type, COUNT(*), COALESCE(SUM((doc->>'total_volume')::float8), 0)
		 FROM workout_sessions
		 WHERE user_id = $1 AND status = 'completed'
		 GROUP BY workout_type
		 ORDER BY COUNT(*) DESC, workout_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying workout types: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var ts WorkoutTypeStat
		if err := typeRows.Scan(&ts.Name, &ts.Count, &ts.TotalVolume); err != nil {
			return nil, fmt.Errorf("scanning workout type: %w", err)
		}
		stats.WorkoutsByType = append(stats.WorkoutsByType, ts)
	}
	return stats, typeRows.Err()
}
