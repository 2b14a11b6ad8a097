package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/claude/fitforge/internal/client"
	"github.com/claude/fitforge/internal/config"
	fitmcp "github.com/claude/fitforge/internal/mcp"
	"github.com/claude/fitforge/internal/session"
	"github.com/claude/fitforge/internal/storage"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (local mode)")
	migrations := flag.String("migrations", "migrations", "path to SQL migrations (postgres driver)")
	serverURL := flag.String("server", "", "FitForge server URL; when set, tools query it over HTTP instead of opening the store")
	userID := flag.Int("user", 1, "user id the tools act for (local mode)")
	flag.Parse()

	// stdout carries the protocol; logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var ds fitmcp.DataSource
	if *serverURL != "" {
		ds = client.New(*serverURL)
		log.Info("using remote server", "url", *serverURL)
	} else {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		store, err := storage.Open(context.Background(), cfg.StorageOptions(*migrations))
		if err != nil {
			log.Error("failed to open store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		ds = session.NewManager(store, cfg.Policy.Policy, log)
		log.Info("using local store", "driver", cfg.Storage.Driver, "user_id", *userID)
	}

	s := fitmcp.New(ds, Version, log)
	uid := *userID
	err := mcpserver.ServeStdio(s, mcpserver.WithStdioContextFunc(func(ctx context.Context) context.Context {
		return fitmcp.WithUserID(ctx, uid)
	}))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp:", err)
		os.Exit(1)
	}
}
