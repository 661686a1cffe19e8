package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tjfontaine/polyglot-chat-backend/internal/auth"
	"github.com/tjfontaine/polyglot-chat-backend/internal/config"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	create := flag.Bool("create", false, "create a new session in the configured sqlite database")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: tokengen [-config config.yaml] (-create | <session-id>)")
		fmt.Fprintln(os.Stderr, "Mints a bearer token for a chat session.")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()

	if err := run(os.Stdout, *configPath, *create, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, configPath string, create bool, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is not configured")
	}
	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var sessionID string
	switch {
	case create:
		sessionID, err = createSession(cfg.Storage.SQLite.Path)
		if err != nil {
			return err
		}
	case len(args) == 1:
		sessionID = args[0]
	default:
		flag.Usage()
		return fmt.Errorf("expected -create or exactly one session id")
	}

	tok, err := issuer.Issue(sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Session:    %s\n", sessionID)
	fmt.Fprintf(w, "Expires at: %s\n", tok.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "Token:      %s\n", tok.AccessToken)
	fmt.Fprintln(w, "\nUse it as:")
	fmt.Fprintf(w, "  Authorization: Bearer %s\n", tok.AccessToken)
	return nil
}

func createSession(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := sqlite.New(path)
	if err != nil {
		return "", err
	}
	defer store.Close()

	sess := &storage.Session{ID: uuid.NewString(), Name: "tokengen"}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}
