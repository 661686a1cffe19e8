// Package history bounds a conversation to a token budget before it is sent
// to a model.
package history

import (
	"errors"
	"log/slog"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/message"
	"github.com/tjfontaine/polyglot-chat-backend/internal/tokens"
)

// DefaultFallbackCap is the message cap used when token accounting fails.
const DefaultFallbackCap = 30

var errNoCounter = errors.New("no token counter configured")

// Tier identifies which trimming strategy produced a history.
type Tier int

const (
	// TierPrecision measures with the active model's own tokenizer.
	TierPrecision Tier = iota
	// TierApproximate measures with a model-agnostic estimate.
	TierApproximate
	// TierHardCap keeps the most recent messages without measuring.
	TierHardCap
)

func (t Tier) String() string {
	switch t {
	case TierPrecision:
		return "precision"
	case TierApproximate:
		return "approximate"
	case TierHardCap:
		return "hard_cap"
	default:
		return "unknown"
	}
}

// Trimmer prepares bounded histories.
type Trimmer struct {
	precision   tokens.MessageCounter
	approximate tokens.MessageCounter
	logger      *slog.Logger
}

// Option configures a Trimmer.
type Option func(*Trimmer)

// WithPrecisionCounter replaces the exact, model-specific counter.
func WithPrecisionCounter(c tokens.MessageCounter) Option {
	return func(t *Trimmer) {
		t.precision = c
	}
}

// WithApproximateCounter replaces the model-agnostic counter.
func WithApproximateCounter(c tokens.MessageCounter) Option {
	return func(t *Trimmer) {
		t.approximate = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trimmer) {
		t.logger = logger
	}
}

// NewTrimmer creates a Trimmer using tiktoken for OpenAI models and the
// character estimator as the approximate tier.
func NewTrimmer(opts ...Option) *Trimmer {
	t := &Trimmer{
		precision:   tokens.NewRegistry(tokens.NewOpenAICounter()),
		approximate: tokens.NewEstimator(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Prepare normalizes history, trims it to budget tokens as measured for
// model, and prepends a single system message built from systemPrompt.
//
// System messages in history are discarded. If measuring fails with the
// model's tokenizer an estimate is used; if that fails too, only the last
// fallbackCap messages are kept (DefaultFallbackCap when fallbackCap <= 0).
// The result always starts with the system message.
func (t *Trimmer) Prepare(history []message.Inbound, model, systemPrompt string, budget, fallbackCap int) []domain.Message {
	msgs, _ := t.prepare(history, model, systemPrompt, budget, fallbackCap)
	return msgs
}

func (t *Trimmer) prepare(history []message.Inbound, model, systemPrompt string, budget, fallbackCap int) ([]domain.Message, Tier) {
	conv := make([]domain.ProviderMessage, 0, len(history))
	for _, in := range history {
		m := message.ToCanonical(in)
		if m.Role == domain.RoleSystem {
			continue
		}
		conv = append(conv, message.ToProviderMessage(m))
	}

	tier := TierPrecision
	trimmed, err := trimLast(conv, budget, model, t.precision)
	if err != nil {
		t.logger.Warn("precision trimming failed, using approximate token counts",
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		tier = TierApproximate
		trimmed, err = trimLast(conv, budget, model, t.approximate)
		if err != nil {
			t.logger.Warn("approximate trimming failed, applying hard message cap",
				slog.String("model", model),
				slog.String("error", err.Error()),
			)
			tier = TierHardCap
			trimmed = hardCap(conv, fallbackCap)
		}
	}

	out := make([]domain.Message, 0, len(trimmed)+1)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: systemPrompt})
	for _, p := range trimmed {
		if m, ok := message.FromProviderMessage(p); ok {
			out = append(out, m)
		}
	}

	t.logger.Debug("history prepared",
		slog.String("model", model),
		slog.String("tier", tier.String()),
		slog.Int("input", len(history)),
		slog.Int("output", len(out)),
	)
	return out, tier
}

// trimLast keeps the longest suffix of msgs whose measured size fits budget,
// then drops leading messages until the suffix starts on a human turn.
// Messages are never split.
func trimLast(msgs []domain.ProviderMessage, budget int, model string, counter tokens.MessageCounter) ([]domain.ProviderMessage, error) {
	if counter == nil {
		return nil, errNoCounter
	}

	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		n, err := counter.CountMessages(model, msgs[i:i+1])
		if err != nil {
			return nil, err
		}
		if total+n > budget {
			break
		}
		total += n
		start = i
	}

	kept := msgs[start:]
	for len(kept) > 0 && kept[0].Type != domain.MessageTypeHuman {
		kept = kept[1:]
	}
	return kept, nil
}

func hardCap(msgs []domain.ProviderMessage, limit int) []domain.ProviderMessage {
	if limit <= 0 {
		limit = DefaultFallbackCap
	}
	if len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}
