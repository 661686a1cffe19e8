// Package chat runs a conversation turn: it loads a session's history,
// fits it to the model's budget, calls the model with fallback, and stores
// the exchange.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/history"
	"github.com/tjfontaine/polyglot-chat-backend/internal/message"
	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
	"github.com/tjfontaine/polyglot-chat-backend/internal/resilience"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely."

// DefaultTokenBudget is the history budget when none is configured.
const DefaultTokenBudget = 2000

// Chunk is one piece of a streamed reply.
type Chunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Options selects the model for a single turn.
type Options struct {
	Model     string
	Overrides *registry.Overrides
}

// Service is the chat application layer.
type Service struct {
	caller  *resilience.Caller
	trimmer *history.Trimmer
	store   storage.SessionStore
	logger  *slog.Logger

	systemPrompt string
	budget       int
	fallbackCap  int
}

// Option configures a Service.
type Option func(*Service)

// WithSystemPrompt sets the prompt prepended to every model call.
func WithSystemPrompt(prompt string) Option {
	return func(s *Service) {
		if prompt != "" {
			s.systemPrompt = prompt
		}
	}
}

// WithTokenBudget sets the history budget passed to the trimmer.
func WithTokenBudget(budget int) Option {
	return func(s *Service) {
		if budget > 0 {
			s.budget = budget
		}
	}
}

// WithFallbackCap sets the message cap used when no counter works.
func WithFallbackCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fallbackCap = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a chat service.
func NewService(caller *resilience.Caller, trimmer *history.Trimmer, store storage.SessionStore, opts ...Option) *Service {
	s := &Service{
		caller:       caller,
		trimmer:      trimmer,
		store:        store,
		logger:       slog.Default(),
		systemPrompt: DefaultSystemPrompt,
		budget:       DefaultTokenBudget,
		fallbackCap:  history.DefaultFallbackCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession starts an empty session.
func (s *Service) CreateSession(ctx context.Context, name string) (*storage.Session, error) {
	sess := &storage.Session{ID: uuid.NewString(), Name: name}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("session created", slog.String("session_id", sess.ID))
	return sess, nil
}

// Respond appends inbound to the session, gets one reply from the model and
// returns the whole conversation without system messages.
func (s *Service) Respond(ctx context.Context, sessionID string, inbound []message.Inbound, opts Options) ([]domain.Message, error) {
	turn, err := s.begin(ctx, sessionID, inbound, opts)
	if err != nil {
		return nil, err
	}

	resp, err := s.caller.Invoke(ctx, turn.prompt, turn.callOpts...)
	if err != nil {
		return nil, err
	}

	flat := message.FlattenResponseContent(resp)
	reply, ok := message.FromProviderMessage(*flat)
	if !ok {
		s.logger.Warn("model returned empty content",
			slog.String("session_id", sessionID),
			slog.String("model", resp.Model),
		)
	}

	conv := turn.stored
	conv = append(conv, turn.inbound...)
	if ok {
		conv = append(conv, reply)
	}
	if err := s.persist(ctx, sessionID, turn.inbound, reply, ok, resp.Model); err != nil {
		return nil, err
	}
	return conv, nil
}

// RespondStream is Respond with the reply delivered incrementally. The channel
// always ends with a Done chunk; a failure is reported as the content of that
// chunk. The reply is stored only when the stream finishes cleanly.
func (s *Service) RespondStream(ctx context.Context, sessionID string, inbound []message.Inbound, opts Options) (<-chan Chunk, error) {
	turn, err := s.begin(ctx, sessionID, inbound, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		events, err := s.caller.Stream(ctx, turn.prompt, turn.callOpts...)
		if err != nil {
			s.logger.Error("stream failed to open",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			send(Chunk{Content: err.Error(), Done: true})
			return
		}

		var reply strings.Builder
		var model string
		for ev := range events {
			model = ev.Model
			if ev.Err != nil {
				s.logger.Error("stream interrupted",
					slog.String("session_id", sessionID),
					slog.String("error", ev.Err.Error()),
				)
				send(Chunk{Content: ev.Err.Error(), Done: true})
				return
			}
			if ev.Content == "" {
				continue
			}
			reply.WriteString(ev.Content)
			if !send(Chunk{Content: ev.Content}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		msg := domain.Message{Role: domain.RoleAssistant, Content: reply.String()}
		if err := s.persist(ctx, sessionID, turn.inbound, msg, msg.Content != "", model); err != nil {
			s.logger.Error("failed to store streamed reply",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			send(Chunk{Content: err.Error(), Done: true})
			return
		}
		send(Chunk{Done: true})
	}()
	return out, nil
}

// History returns the stored conversation without system messages.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	stored, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return fromStored(stored), nil
}

// ClearHistory deletes every stored message of the session.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) error {
	if err := s.store.ClearMessages(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("history cleared", slog.String("session_id", sessionID))
	return nil
}

// turn is a prepared model call.
type turn struct {
	stored   []domain.Message
	inbound  []domain.Message
	prompt   []domain.ProviderMessage
	callOpts []resilience.CallOption
}

func (s *Service) begin(ctx context.Context, sessionID string, inbound []message.Inbound, opts Options) (*turn, error) {
	stored, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	t := &turn{stored: fromStored(stored)}
	for _, in := range inbound {
		m := message.ToCanonical(in)
		if m.Role == domain.RoleSystem {
			continue
		}
		t.inbound = append(t.inbound, m)
	}

	all := make([]message.Inbound, 0, len(t.stored)+len(t.inbound))
	for _, m := range t.stored {
		all = append(all, message.FromMessage(m))
	}
	for _, m := range t.inbound {
		all = append(all, message.FromMessage(m))
	}

	model := opts.Model
	if model == "" {
		model, _ = s.caller.CurrentModel()
	}
	start := time.Now()
	prepared := s.trimmer.Prepare(all, model, s.systemPrompt, s.budget, s.fallbackCap)
	s.logger.Debug("history trimmed",
		slog.String("session_id", sessionID),
		slog.Int("messages", len(all)),
		slog.Int("kept", len(prepared)-1),
		slog.Duration("duration", time.Since(start)),
	)
	t.prompt = message.ToProviderMessages(prepared)

	if opts.Model != "" {
		t.callOpts = append(t.callOpts, resilience.WithModel(opts.Model))
	}
	if opts.Overrides != nil {
		t.callOpts = append(t.callOpts, resilience.WithOverrides(opts.Overrides))
	}
	return t, nil
}

func (s *Service) persist(ctx context.Context, sessionID string, inbound []domain.Message, reply domain.Message, withReply bool, model string) error {
	batch := make([]*storage.StoredMessage, 0, len(inbound)+1)
	for _, m := range inbound {
		batch = append(batch, toStored(m, ""))
	}
	if withReply {
		batch = append(batch, toStored(reply, model))
	}
	if len(batch) == 0 {
		return nil
	}
	return s.store.AppendMessages(ctx, sessionID, batch)
}

func toStored(m domain.Message, model string) *storage.StoredMessage {
	return &storage.StoredMessage{
		ID:         uuid.NewString(),
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Model:      model,
	}
}

func fromStored(stored []storage.StoredMessage) []domain.Message {
	out := make([]domain.Message, 0, len(stored))
	for _, sm := range stored {
		m := message.ToCanonical(message.FromRecord(message.Record{
			Role:       sm.Role,
			Content:    sm.Content,
			ToolCallID: sm.ToolCallID,
		}))
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
