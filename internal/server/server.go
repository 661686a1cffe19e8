// Package server exposes the chat service over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-chat-backend/internal/auth"
	"github.com/tjfontaine/polyglot-chat-backend/internal/chat"
	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/message"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
)

// ChatService is the application layer the handlers drive.
type ChatService interface {
	CreateSession(ctx context.Context, name string) (*storage.Session, error)
	Respond(ctx context.Context, sessionID string, inbound []message.Inbound, opts chat.Options) ([]domain.Message, error)
	RespondStream(ctx context.Context, sessionID string, inbound []message.Inbound, opts chat.Options) (<-chan chat.Chunk, error)
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	ClearHistory(ctx context.Context, sessionID string) error
}

// Config holds the HTTP-level settings.
type Config struct {
	Port           int
	RequestTimeout time.Duration
	Environment    string

	// RequestsPerSecond and Burst bound each client address. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Server is the chat HTTP API.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server

	chat        ChatService
	store       storage.SessionStore
	issuer      *auth.Issuer
	environment string
}

// New builds the router. Middleware runs in the order RequestID, Logging,
// Recoverer, RateLimit, otelhttp; the request timeout covers every route
// except the streaming one.
func New(cfg Config, svc ChatService, store storage.SessionStore, issuer *auth.Issuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		Router:      chi.NewRouter(),
		Port:        cfg.Port,
		logger:      logger,
		chat:        svc,
		store:       store,
		issuer:      issuer,
		environment: cfg.Environment,
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestsPerSecond > 0 {
		r.Use(RateLimitMiddleware(NewClientRateLimiter(cfg.RequestsPerSecond, cfg.Burst)))
	}
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "chat-api")
	})

	timeout := TimeoutMiddleware(cfg.RequestTimeout)

	r.With(timeout).Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(timeout).Post("/sessions", s.handleCreateSession)

		r.Route("/chatbot", func(r chi.Router) {
			r.Use(SessionAuthMiddleware(issuer, store))

			r.Post("/chat/stream", s.handleChatStream)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Post("/chat", s.handleChat)
				r.Get("/messages", s.handleGetMessages)
				r.Delete("/messages", s.handleClearMessages)
			})
		})
	})

	return s
}

// Start listens on the configured port and blocks until the server stops.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
