package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tabulant/tabulant/internal/agent"
	"github.com/tabulant/tabulant/internal/agent/providers"
	"github.com/tabulant/tabulant/internal/auth"
	"github.com/tabulant/tabulant/internal/config"
	"github.com/tabulant/tabulant/internal/gateway"
	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/internal/query"
	"github.com/tabulant/tabulant/internal/store"
)

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics(nil)

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.Model,
	})
	if err != nil {
		return err
	}

	loopConfig := agent.DefaultLoopConfig()
	loopConfig.MaxIterations = cfg.MaxIterations
	loopConfig.MaxTurnDuration = cfg.MaxTurnDuration
	loopConfig.MaxResultRows = cfg.MaxResultRows

	runtime := gateway.NewRuntime(st, provider, query.NewEngine(0), logger, metrics, loopConfig)
	authService := auth.NewService(cfg.SecretKey, cfg.TokenTTL)

	server := gateway.NewServer(gateway.ServerConfig{
		Addr:           cfg.Addr,
		DataDir:        cfg.DataDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, st, authService, runtime, logger, metrics)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}

func issueToken(userID string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return auth.NewService(cfg.SecretKey, cfg.TokenTTL).Generate(userID)
}
