package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gamedock/platform/internal/auth"
	"github.com/gamedock/platform/internal/config"
	"github.com/gamedock/platform/internal/game"
	"github.com/gamedock/platform/internal/lobby"
	"github.com/gamedock/platform/internal/runtime"
	"github.com/gamedock/platform/internal/server"
	"github.com/gamedock/platform/internal/store"
)

const ConfigPath = "config/platformd.yaml"

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
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("platform server starting")

	cfgPath := ConfigPath
	if p := os.Getenv("PLATFORMD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.Port, "base_game_port", cfg.BaseGamePort)

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	slog.Info("datastore opened", "dir", cfg.DataDir)

	rt, err := runtime.New(runtime.Options{
		Interpreter:  cfg.Interpreter,
		ScriptSuffix: cfg.ScriptSuffix,
		TempRoot:     cfg.RuntimeDir,
		ReadyWindow:  cfg.ReadyWindow,
		StopGrace:    cfg.StopGrace,
	})
	if err != nil {
		return fmt.Errorf("creating runtime: %w", err)
	}

	gm, err := game.NewManager(st, cfg.StorageDir, cfg.BaseGamePort)
	if err != nil {
		return fmt.Errorf("creating game manager: %w", err)
	}

	am := auth.NewManager(st)
	lm := lobby.NewManager(st, rt)
	srv := server.New(cfg, st, am, gm, lm, rt)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("platform server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
