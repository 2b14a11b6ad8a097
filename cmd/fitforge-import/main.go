package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/claude/fitforge/internal/config"
	"github.com/claude/fitforge/internal/importer"
	"github.com/claude/fitforge/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrations := flag.String("migrations", "migrations", "path to SQL migrations (postgres driver)")
	legacyPath := flag.String("path", "", "path to the data directory holding workouts.json files or Alpha Progression .csv exports (required)")
	dryRun := flag.Bool("dry-run", false, "report counts without writing to the store")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *legacyPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: fitforge-import -config config.yaml -path /path/to/legacy-data [-dry-run]\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	info, err := os.Stat(*legacyPath)
	if err != nil || !info.IsDir() {
		log.Error("legacy path does not exist or is not a directory", "path", *legacyPath)
		os.Exit(1)
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *dryRun {
		log.Info("DRY RUN mode, nothing will be written to the store")
	}

	store, err := storage.Open(ctx, cfg.StorageOptions(*migrations))
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("store opened", "driver", cfg.Storage.Driver)

	imp := importer.New(store, log, *dryRun)
	stats, err := imp.Import(ctx, *legacyPath)
	if err != nil {
		log.Error("import failed", "error", err)
		printStats(log, stats)
		os.Exit(1)
	}

	printStats(log, stats)
	log.Info("import complete")
}

func printStats(log *slog.Logger, stats *importer.Stats) {
	log.Info("import stats",
		"files_processed", stats.FilesProcessed,
		"files_errored", stats.FilesErrored,
		"sessions_inserted", stats.SessionsInserted,
		"sessions_duplicated", stats.SessionsDuplicated,
		"sessions_skipped", stats.SessionsSkipped,
		"sessions_demoted", stats.SessionsDemoted,
	)
}
