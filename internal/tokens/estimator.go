package tokens

import (
	"math"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/message"
)

// Estimator approximates token counts from character counts. It supports
// every model and every content shape.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
	// MessageOverhead is the characters added per message for role and separators.
	MessageOverhead int
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken:   4.0,
		MessageOverhead: 4,
	}
}

// CountMessages implements MessageCounter.
func (e *Estimator) CountMessages(_ string, msgs []domain.ProviderMessage) (int, error) {
	perToken := e.CharsPerToken
	if perToken <= 0 {
		perToken = 4.0
	}

	total := 0
	for _, msg := range msgs {
		chars := len(msg.Type) + len(message.Stringify(msg.Content)) + e.MessageOverhead
		total += int(math.Ceil(float64(chars) / perToken))
	}
	return total, nil
}

// SupportsModel returns true; the estimator applies to all models.
func (e *Estimator) SupportsModel(string) bool {
	return true
}
