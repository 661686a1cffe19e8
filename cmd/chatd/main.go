package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-chat-backend/internal/auth"
	"github.com/tjfontaine/polyglot-chat-backend/internal/chat"
	"github.com/tjfontaine/polyglot-chat-backend/internal/config"
	"github.com/tjfontaine/polyglot-chat-backend/internal/history"
	"github.com/tjfontaine/polyglot-chat-backend/internal/provider/openai"
	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
	"github.com/tjfontaine/polyglot-chat-backend/internal/resilience"
	"github.com/tjfontaine/polyglot-chat-backend/internal/server"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage/memory"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage/sqlite"
	"github.com/tjfontaine/polyglot-chat-backend/internal/telemetry"
)

// devSecret signs session tokens when none is configured in development.
const devSecret = "insecure-development-secret"

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	srv, store, err := build(cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping server")
	case err := <-errCh:
		logger.Error("server error", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

// build wires every component from cfg.
func build(cfg *config.Config, logger *slog.Logger) (*server.Server, storage.SessionStore, error) {
	if cfg.LLM.APIKey == "" {
		logger.Warn("llm.api_key is empty; provider calls will fail authentication")
	}

	client := openai.NewClient(cfg.LLM.APIKey,
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	)

	reg, err := registry.New(openai.Factory(client), cfg.LLM.Models...)
	if err != nil {
		return nil, nil, fmt.Errorf("model registry: %w", err)
	}
	logger.Info("model catalog loaded", slog.String("models", strings.Join(reg.AllNames(), ",")))

	caller := resilience.New(reg,
		resilience.WithDefaultModel(cfg.LLM.DefaultModel),
		resilience.WithMaxAttempts(cfg.LLM.MaxRetries),
		resilience.WithBackoff(resilience.ExponentialBackoff(
			cfg.LLM.Backoff.Multiplier, cfg.LLM.Backoff.Min, cfg.LLM.Backoff.Max)),
		resilience.WithLogger(logger),
	)

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	secret := cfg.Auth.Secret
	if secret == "" {
		logger.Warn("auth.secret is empty; using an insecure development secret")
		secret = devSecret
	}
	issuer, err := auth.NewIssuer(secret, cfg.Auth.TokenTTL)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	svc := chat.NewService(caller, history.NewTrimmer(history.WithLogger(logger)), store,
		chat.WithSystemPrompt(cfg.LLM.SystemPrompt),
		chat.WithTokenBudget(cfg.LLM.TokenBudget),
		chat.WithFallbackCap(cfg.LLM.FallbackCap),
		chat.WithLogger(logger),
	)

	srv := server.New(server.Config{
		Port:              cfg.Server.Port,
		RequestTimeout:    cfg.Server.RequestTimeout,
		Environment:       cfg.Environment,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, svc, store, issuer, logger)

	return srv, store, nil
}

func openStore(cfg config.StorageConfig) (storage.SessionStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return sqlite.New(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
