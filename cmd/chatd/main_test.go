package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-chat-backend/internal/config"
	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage/memory"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage/sqlite"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenStore(t *testing.T) {
	mem, err := openStore(config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("openStore(memory) error = %v", err)
	}
	if _, ok := mem.(*memory.Store); !ok {
		t.Errorf("openStore(memory) = %T", mem)
	}

	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	db, err := openStore(config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: path}})
	if err != nil {
		t.Fatalf("openStore(sqlite) error = %v", err)
	}
	defer db.Close()
	if _, ok := db.(*sqlite.Store); !ok {
		t.Errorf("openStore(sqlite) = %T", db)
	}

	if _, err := openStore(config.StorageConfig{Type: "postgres"}); err == nil {
		t.Error("openStore(postgres) expected error")
	}
}

func TestBuild(t *testing.T) {
	cfg := &config.Config{
		Environment: "development",
		Server:      config.ServerConfig{Port: 8000, RequestTimeout: time.Second},
		LLM: config.LLMConfig{
			DefaultModel: "gpt-4o-mini",
			BaseURL:      "http://127.0.0.1:0",
			MaxRetries:   1,
			TokenBudget:  100,
			Backoff:      config.BackoffConfig{Multiplier: 1, Min: time.Millisecond, Max: time.Millisecond},
			Models:       registry.DefaultCatalog("development"),
		},
		Storage: config.StorageConfig{Type: "memory"},
	}

	srv, store, err := build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer store.Close()

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}
