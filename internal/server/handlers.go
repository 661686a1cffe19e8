package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/polyglot-chat-backend/internal/auth"
	"github.com/tjfontaine/polyglot-chat-backend/internal/chat"
	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/message"
	"github.com/tjfontaine/polyglot-chat-backend/internal/sanitize"
)

// maxBodyBytes bounds request bodies; a full chat request stays well below it.
const maxBodyBytes = 1 << 20

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	Model    string        `json:"model,omitempty"`
}

type chatResponse struct {
	Messages []domain.Message `json:"messages"`
}

type sessionRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	SessionID string     `json:"session_id"`
	Name      string     `json:"name"`
	Token     auth.Token `json:"token"`
}

type healthResponse struct {
	Status      string            `json:"status"`
	Environment string            `json:"environment"`
	Components  map[string]string `json:"components"`
	Timestamp   time.Time         `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "healthy",
		Environment: s.environment,
		Components:  map[string]string{"api": "healthy", "database": "healthy"},
		Timestamp:   time.Now().UTC(),
	}
	status := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		AddError(r.Context(), err)
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sess, err := s.chat.CreateSession(r.Context(), sanitize.String(req.Name))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tok, err := s.issuer.Issue(sess.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	AddLogField(r.Context(), "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, Name: sess.Name, Token: tok})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	inbound, opts, ok := s.readChatRequest(w, r)
	if !ok {
		return
	}

	s.logger.Info("chat request received",
		slog.String("session_id", sess.ID),
		slog.Int("message_count", len(inbound)),
	)

	conv, err := s.chat.Respond(r.Context(), sess.ID, inbound, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Messages: conv})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	inbound, opts, ok := s.readChatRequest(w, r)
	if !ok {
		return
	}

	chunks, err := s.chat.RespondStream(r.Context(), sess.ID, inbound, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			AddError(r.Context(), err)
			// Drain so the producer can observe cancellation and exit.
			for range chunks {
			}
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	msgs, err := s.chat.History(r.Context(), sess.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Messages: msgs})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := s.chat.ClearHistory(r.Context(), sess.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared successfully"})
}

// readChatRequest decodes and validates a chat body, writing the error
// response itself when it returns false.
func (s *Server) readChatRequest(w http.ResponseWriter, r *http.Request) ([]message.Inbound, chat.Options, bool) {
	var req chatRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return nil, chat.Options{}, false
	}

	check := make([]sanitize.Message, len(req.Messages))
	for i, m := range req.Messages {
		check[i] = sanitize.Message{Role: m.Role, Content: m.Content}
	}
	if err := sanitize.ValidateMessages(check); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err)
		return nil, chat.Options{}, false
	}

	inbound := make([]message.Inbound, len(req.Messages))
	for i, m := range req.Messages {
		inbound[i] = message.FromRecord(message.Record{Role: m.Role, Content: m.Content})
	}
	AddLogField(r.Context(), "model", req.Model)
	return inbound, chat.Options{Model: req.Model}, true
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
