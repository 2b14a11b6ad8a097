package ctl

import (
	"time"

	"github.com/claude/fitforge/internal/backup"
	"github.com/claude/fitforge/internal/session"
	"github.com/spf13/cobra"
)

func (a *app) backupCommand() *cobra.Command {
	var (
		dir      string
		keepDays int
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON snapshot of every user's sessions",
		Long: `Write a JSON snapshot of every user's sessions straight from the configured
store, then prune dated backup directories older than --keep-days.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, cfg, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if dir == "" {
				dir = cfg.Backup.Dir
			}
			if dir == "" {
				dir = "backups"
			}
			if !cmd.Flags().Changed("keep-days") {
				keepDays = cfg.Backup.KeepDays
			}

			now := time.Now()
			res, err := backup.Run(ctx, store, dir, now)
			if err != nil {
				return err
			}
			removed, err := backup.Prune(dir, keepDays, now)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{
					"users":    res.Users,
					"sessions": res.Sessions,
					"files":    res.Files,
					"pruned":   removed,
				})
			}
			a.printf("Backed up %d sessions for %d users into %s.\n", res.Sessions, res.Users, dir)
			if len(removed) > 0 {
				a.printf("Pruned %d old backup directories.\n", len(removed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "backup directory (defaults to backup.dir)")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "days of backups to keep (defaults to backup.keep_days)")
	return cmd
}

func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Auto-abandon sessions idle past the policy threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, cfg, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			m := session.NewManager(store, cfg.Policy.Policy, discardLogger())
			n, err := m.SweepStale(ctx)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]int{"abandoned": n})
			}
			if !cfg.Policy.EnableAutoAbandon {
				a.printf("Auto-abandon is disabled by policy.\n")
				return nil
			}
			a.printf("Abandoned %d stale sessions.\n", n)
			return nil
		},
	}
}
