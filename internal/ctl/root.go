// Package ctl implements the fitforgectl command tree.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/claude/fitforge/internal/client"
	"github.com/claude/fitforge/internal/config"
	"github.com/claude/fitforge/internal/storage"
	"github.com/spf13/cobra"
)

// app carries global flags and lazily opened dependencies for one run.
type app struct {
	serverURL  string
	stateDir   string
	configPath string
	migrations string
	jsonOut    bool

	out    io.Writer
	client *client.Client
	mirror *client.Mirror
}

// NewRootCommand builds the command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "fitforgectl",
		Short: "Operate FitForge workout sessions",
		Long: `fitforgectl talks to a FitForge server to start, log and finish workouts.

The last confirmed active session is kept in a local SQLite mirror, so
"status" still shows the workout when the server is unreachable.
The backup and sweep commands open the configured store directly.`,
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&a.serverURL, "server", envOr("FITFORGE_SERVER", "http://127.0.0.1:8080"), "FitForge server URL")
	root.PersistentFlags().StringVar(&a.stateDir, "state-dir", defaultStateDir(), "directory for the local session mirror")
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "server config file (backup, sweep)")
	root.PersistentFlags().StringVar(&a.migrations, "migrations", "migrations", "path to SQL migrations (postgres driver)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		a.statusCommand(),
		a.startCommand(),
		a.logCommand(),
		a.completeCommand(),
		a.abandonCommand(),
		a.resolveCommand(),
		a.backupCommand(),
		a.sweepCommand(),
	)
	return root
}


func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fitforge"
	}
	return filepath.Join(home, ".fitforge")
}

func (a *app) remote() (*client.Client, *client.Mirror, error) {
	if a.client == nil {
		a.client = client.New(a.serverURL)
	}
	if a.mirror == nil {
		m, err := client.OpenMirror(a.stateDir)
		if err != nil {
			return nil, nil, err
		}
		a.mirror = m
	}
	return a.client, a.mirror, nil
}

// mirrorKey identifies the server in the mirror.
func (a *app) mirrorKey() string {
	return strings.TrimRight(a.serverURL, "/")
}

func (a *app) openStore(ctx context.Context) (storage.Store, *config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg.StorageOptions(a.migrations))
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return store, cfg, nil
}

func (a *app) close() error {
	if a.mirror != nil {
		err := a.mirror.Close()
		a.mirror = nil
		return err
	}
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
