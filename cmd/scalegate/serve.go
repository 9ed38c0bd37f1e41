package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/ScaleGate/internal/config"
	"github.com/KevinKickass/ScaleGate/internal/system"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logCfg.Level = lvl
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func serveCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger, err := newLogger(level)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Config loaded successfully",
		zap.String("path", c.String("config")),
		zap.String("registry_backend", cfg.Registry.Backend))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := system.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open device registry: %w", err)
	}

	lifecycle, err := system.NewLifecycleManager(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	if err := lifecycle.Start(ctx); err != nil {
		_ = lifecycle.Shutdown(context.Background())
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("Shutdown requested over the API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("ScaleGate stopped successfully")
	return nil
}
