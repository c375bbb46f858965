package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/duelgo/internal/config"
	"github.com/udisondev/duelgo/internal/db"
	"github.com/udisondev/duelgo/internal/duel"
)

const ConfigPath = "config/duelserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Configure slog
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("duelgo server starting")

	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("DUELGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// The positional argument is the bind address; it wins over the config.
	if len(os.Args) > 1 {
		host, portStr, err := net.SplitHostPort(os.Args[1])
		if err != nil {
			return fmt.Errorf("parsing bind address %q: %w", os.Args[1], err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("parsing bind port %q: %w", portStr, err)
		}
		cfg.BindAddress = host
		cfg.Port = port
	}
	slog.Info("config loaded",
		"bind", cfg.ListenAddr(),
		"max_connections", cfg.MaxConnections,
		"max_turns", cfg.Game.MaxTurns,
		"total_points", cfg.Game.TotalPoints)

	var opts []duel.ServerOption

	// Match history is optional; the server runs fine without a database.
	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		opts = append(opts, duel.WithRecorder(db.NewMatchRepository(database.Pool())))
	}

	server := duel.NewServer(cfg, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting duel server")
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("duel server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
