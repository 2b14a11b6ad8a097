package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claude/fitforge/internal/backup"
	"github.com/claude/fitforge/internal/config"
	fitmcp "github.com/claude/fitforge/internal/mcp"
	"github.com/claude/fitforge/internal/server"
	"github.com/claude/fitforge/internal/session"
	"github.com/claude/fitforge/internal/storage"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrations := flag.String("migrations", "migrations", "path to SQL migrations (postgres driver)")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("FitForge starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *migrateOnly {
		if cfg.Storage.Driver != "postgres" {
			log.Info("migrate-only: file driver has no migrations", "driver", cfg.Storage.Driver)
			return
		}
		if err := storage.RunMigrations(cfg.Database.DSN(), *migrations); err != nil {
			log.Error("migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrate-only: migrations applied, exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open store
	store, err := storage.Open(ctx, cfg.StorageOptions(*migrations))
	if err != nil {
		log.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("store opened", "driver", cfg.Storage.Driver)

	sessions := session.NewManager(store, cfg.Policy.Policy, log)

	srv := server.New(sessions, server.Options{
		RateLimit: cfg.RateLimit.PerSecond,
		RateBurst: cfg.RateLimit.Burst,
	}, log)

	mcpSrv := fitmcp.New(sessions, Version, log)
	srv.MountIdentified("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return fitmcp.WithUserID(ctx, server.UserIDFromRequest(r))
		}),
	))

	if cfg.Server.StaticDir != "" {
		srv.SetFrontend(os.DirFS(cfg.Server.StaticDir))
	}

	// Start server over tsnet or plain HTTP
	var listener net.Listener
	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return sweepLoop(gctx, sessions, cfg.Policy.SweepInterval, log)
	})

	if cfg.Backup.Dir != "" {
		g.Go(func() error {
			return backupLoop(gctx, store, cfg.Backup, log)
		})
	}

	g.Go(func() error {
		err := config.Watch(gctx, *configPath, log, func(next *config.Config) {
			if err := sessions.SetPolicy(next.Policy.Policy); err != nil {
				log.Warn("policy reload rejected", "error", err)
				return
			}
			log.Info("policy reloaded",
				"warning_threshold", next.Policy.WarningThreshold,
				"auto_abandon_threshold", next.Policy.AutoAbandonThreshold,
				"enable_auto_abandon", next.Policy.EnableAutoAbandon,
			)
		})
		if err != nil {
			log.Warn("config watch unavailable, policy will not hot reload", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// sweepLoop auto-abandons stale sessions every interval. A zero interval
// disables it.
func sweepLoop(ctx context.Context, sessions *session.Manager, interval time.Duration, log *slog.Logger) error {
	if interval <= 0 {
		log.Info("stale session sweep disabled")
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := sessions.SweepStale(ctx); err != nil {
				log.Warn("stale session sweep failed", "error", err)
			}
		}
	}
}

// backupLoop writes a snapshot every interval and prunes old ones.
func backupLoop(ctx context.Context, store storage.Store, cfg config.BackupConfig, log *slog.Logger) error {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			res, err := backup.Run(ctx, store, cfg.Dir, now)
			if err != nil {
				log.Warn("backup failed", "dir", cfg.Dir, "error", err)
				continue
			}
			log.Info("backup written", "users", res.Users, "sessions", res.Sessions)
			removed, err := backup.Prune(cfg.Dir, cfg.KeepDays, now)
			if err != nil {
				log.Warn("backup prune failed", "error", err)
			}
			if len(removed) > 0 {
				log.Info("old backups pruned", "count", len(removed))
			}
		}
	}
}
