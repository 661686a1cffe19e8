// Package tokens measures chat histories for context-window trimming.
//
// Two kinds of counters exist. Exact counters (OpenAICounter) use the model's
// own tokenizer and only accept string content for models they recognise.
// The Estimator accepts anything for any model and works from character
// counts. Counts are additive: the cost of a history is the sum of the cost of
// its messages.
package tokens

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
)

var (
	// ErrUnsupportedModel is returned when no exact counter knows the model.
	ErrUnsupportedModel = errors.New("no exact tokenizer for model")

	// ErrUnsupportedContent is returned when a message's content is not text.
	ErrUnsupportedContent = errors.New("tokenizer cannot measure non-text content")
)

// MessageCounter counts the tokens a list of messages occupies.
type MessageCounter interface {
	CountMessages(model string, msgs []domain.ProviderMessage) (int, error)
}

// ExactCounter is a MessageCounter tied to one model family.
type ExactCounter interface {
	MessageCounter
	SupportsModel(model string) bool
}

// Registry routes counting to the first exact counter supporting the model.
// It never falls back to estimation; callers decide what to do on error.
type Registry struct {
	counters []ExactCounter
}

// NewRegistry creates a registry with the given counters.
func NewRegistry(counters ...ExactCounter) *Registry {
	return &Registry{counters: counters}
}

// CountMessages implements MessageCounter.
func (r *Registry) CountMessages(model string, msgs []domain.ProviderMessage) (int, error) {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			return c.CountMessages(model, msgs)
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	model = strings.ToLower(model)
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
