package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
	"github.com/tjfontaine/polyglot-chat-backend/internal/resilience"
	"github.com/tjfontaine/polyglot-chat-backend/internal/sanitize"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

// StatusForError maps service errors to HTTP status codes.
func StatusForError(err error) int {
	var (
		exhausted *resilience.AllModelsExhaustedError
		notFound  *registry.NotFoundError
		invalid   *sanitize.ValidationError
		apiErr    *domain.APIError
	)
	switch {
	case errors.As(err, &exhausted):
		return http.StatusServiceUnavailable
	case errors.As(err, &notFound):
		return http.StatusBadRequest
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr):
		return apiErr.HTTPStatusCode()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes it with its mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, r, status, err)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	AddError(r.Context(), err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
