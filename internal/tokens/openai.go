package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
)

// Per-message framing for chat models: 3 tokens around each message plus one
// for the role name.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
)

// OpenAICounter counts tokens for OpenAI chat models using tiktoken.
type OpenAICounter struct {
	matcher *ModelMatcher

	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewOpenAICounter creates a new OpenAI token counter.
func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		matcher: NewModelMatcher(
			[]string{"gpt-", "o1", "o3", "o4", "chatgpt-"},
			nil,
		),
		codecs: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// SupportsModel returns true for OpenAI chat models.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(model)
}

// CountMessages implements MessageCounter. Only string content is accepted.
func (c *OpenAICounter) CountMessages(model string, msgs []domain.ProviderMessage) (int, error) {
	codec, err := c.codec(model)
	if err != nil {
		return 0, err
	}

	total := 0
	for i, msg := range msgs {
		text, ok := msg.Content.(string)
		if !ok {
			return 0, fmt.Errorf("%w: message %d has %T content", ErrUnsupportedContent, i, msg.Content)
		}
		ids, _, err := codec.Encode(text)
		if err != nil {
			return 0, fmt.Errorf("failed to encode message %d: %w", i, err)
		}
		total += tokensPerMessage + tokensPerRole + len(ids)
	}
	return total, nil
}

func (c *OpenAICounter) codec(model string) (tokenizer.Codec, error) {
	enc := encodingFor(model)

	c.mu.RLock()
	cached, ok := c.codecs[enc]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding %s: %w", enc, err)
	}

	c.mu.Lock()
	c.codecs[enc] = codec
	c.mu.Unlock()
	return codec, nil
}

// encodingFor maps a model name to its tiktoken encoding.
//
// o200k_base: gpt-4o, gpt-4.1, gpt-5 and the o-series
// cl100k_base: gpt-4 and gpt-3.5
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "chatgpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}
