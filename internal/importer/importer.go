// Package importer copies a legacy workout data directory, and any Alpha
// Progression CSV exports found beside it, into a session store.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/claude/fitforge/internal/models"
	"github.com/claude/fitforge/internal/storage"
)

// supersededReason marks an imported in_progress session that could not stay
// open because the store already holds a different open session.
const supersededReason = "import: another session was already in progress"

// Stats tracks import progress.
type Stats struct {
	FilesProcessed int
	FilesErrored   int

	SessionsInserted   int
	SessionsDuplicated int
	SessionsSkipped    int
	SessionsDemoted    int

	Warnings []string
}

// Importer reads legacy workouts files and inserts sessions into the store.
//
// The legacy layout is one file per user:
//
//	<dir>/users/<userID>/workouts.json
//
// A bare <dir>/workouts.json is treated as belonging to user 1. Files ending
// in .csv in the same places are read as Alpha Progression exports.
type Importer struct {
	store  storage.Store
	log    *slog.Logger
	dryRun bool
	stats  Stats
}

// New creates a new Importer.
func New(store storage.Store, log *slog.Logger, dryRun bool) *Importer {
	return &Importer{store: store, log: log, dryRun: dryRun}
}

// userFile is one legacy workouts file and the user it belongs to.
type userFile struct {
	userID int
	path   string
	alpha  bool
}

// Import processes every workouts file under dir. Re-running it is safe:
// sessions already present (by id) are counted as duplicates.
func (imp *Importer) Import(ctx context.Context, dir string) (*Stats, error) {
	files, err := findFiles(dir)
	if err != nil {
		return &imp.stats, err
	}
	if len(files) == 0 {
		return &imp.stats, fmt.Errorf("no workouts.json or .csv files under %s", dir)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return &imp.stats, err
		}
		if err := imp.importFile(ctx, f); err != nil {
			return &imp.stats, fmt.Errorf("importing %s: %w", f.path, err)
		}
	}
	return &imp.stats, nil
}

func findFiles(dir string) ([]userFile, error) {
	var files []userFile

	root, err := filesIn(dir, 1)
	if err != nil {
		return nil, err
	}
	files = append(files, root...)

	usersDir := filepath.Join(dir, "users")
	entries, err := os.ReadDir(usersDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", usersDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		uid, err := strconv.Atoi(e.Name())
		if err != nil || uid <= 0 {
			continue
		}
		found, err := filesIn(filepath.Join(usersDir, e.Name()), uid)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].userID < files[j].userID })
	return files, nil
}

// filesIn lists workouts.json and then any CSV exports in dir, in name order.
func filesIn(dir string, userID int) ([]userFile, error) {
	var files []userFile
	path := filepath.Join(dir, "workouts.json")
	if _, err := os.Stat(path); err == nil {
		files = append(files, userFile{userID: userID, path: path})
	}
	csvs, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(csvs)
	for _, c := range csvs {
		files = append(files, userFile{userID: userID, path: c, alpha: true})
	}
	return files, nil
}

// importFile decodes one file. A file that cannot be parsed is logged and
// counted, not fatal; a store failure aborts the run.
func (imp *Importer) importFile(ctx context.Context, f userFile) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		imp.log.Warn("read failed", "file", f.path, "error", err)
		imp.stats.FilesErrored++
		return nil
	}
	var (
		sessions []models.WorkoutSession
		warnings []string
	)
	if f.alpha {
		sessions, err = parseAlpha(bytes.NewReader(data), f.userID)
	} else {
		sessions, warnings, err = storage.DecodeLegacySessions(data, f.userID)
	}
	if err != nil {
		imp.log.Warn("parse failed", "file", f.path, "error", err)
		imp.stats.FilesErrored++
		return nil
	}
	imp.stats.FilesProcessed++
	imp.stats.SessionsSkipped += len(warnings)
	for _, w := range warnings {
		imp.log.Warn("legacy record skipped", "file", f.path, "detail", w)
		imp.stats.Warnings = append(imp.stats.Warnings, f.path+": "+w)
	}

	if imp.dryRun {
		imp.log.Info("dry run: would import", "file", f.path, "user_id", f.userID, "sessions", len(sessions))
		return nil
	}

	for i := range sessions {
		if err := imp.importSession(ctx, &sessions[i]); err != nil {
			return err
		}
	}
	imp.log.Info("file imported", "file", f.path, "user_id", f.userID, "sessions", len(sessions))
	return nil
}

func (imp *Importer) importSession(ctx context.Context, s *models.WorkoutSession) error {
	inserted, err := imp.store.ImportSession(ctx, s)
	if errors.Is(err, storage.ErrActiveSessionExists) {
		// The store already has an open session for this user; keep that one.
		s.Status = models.StatusAbandoned
		s.EndReason = supersededReason
		if s.EndTime == nil {
			end := s.StartTime
			if s.LastActivity != nil {
				end = *s.LastActivity
			}
			s.EndTime = &end
		}
		imp.stats.SessionsDemoted++
		imp.log.Warn("imported in-progress session demoted", "session_id", s.ID, "user_id", s.UserID)
		inserted, err = imp.store.ImportSession(ctx, s)
	}
	if err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	if inserted {
		imp.stats.SessionsInserted++
	} else {
		imp.stats.SessionsDuplicated++
	}
	return nil
}
