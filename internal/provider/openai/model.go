package openai

import (
	"context"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
)

// Model is a Client bound to one model configuration.
type Model struct {
	client *Client
	cfg    registry.ModelConfig
}

var _ domain.ChatModel = (*Model)(nil)

// NewModel binds cfg to client.
func NewModel(client *Client, cfg registry.ModelConfig) *Model {
	return &Model{client: client, cfg: cfg}
}

// Factory returns a registry.Factory producing Models on client.
func Factory(client *Client) registry.Factory {
	return func(cfg registry.ModelConfig) domain.ChatModel {
		return NewModel(client, cfg)
	}
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.cfg.Name
}

// Invoke implements domain.ChatModel.
func (m *Model) Invoke(ctx context.Context, msgs []domain.ProviderMessage) (*domain.ProviderMessage, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(msgs))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, domain.ErrServer("response contained no choices")
	}

	served := resp.Model
	if served == "" {
		served = m.cfg.Name
	}
	return &domain.ProviderMessage{
		Type:    domain.MessageTypeAI,
		Content: resp.Choices[0].Message.Content,
		Model:   served,
	}, nil
}

// Stream implements domain.ChatModel.
func (m *Model) Stream(ctx context.Context, msgs []domain.ProviderMessage) (<-chan domain.StreamEvent, error) {
	results, err := m.client.StreamChatCompletion(ctx, m.request(msgs))
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		for r := range results {
			var ev domain.StreamEvent
			switch {
			case r.Err != nil:
				ev.Err = r.Err
			case len(r.Chunk.Choices) > 0 && r.Chunk.Choices[0].Delta.Content != "":
				ev.Content = r.Chunk.Choices[0].Delta.Content
			default:
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *Model) request(msgs []domain.ProviderMessage) *ChatCompletionRequest {
	p := m.cfg.Parameters
	req := &ChatCompletionRequest{
		Model:            m.cfg.Name,
		Messages:         make([]ChatCompletionMessage, len(msgs)),
		MaxTokens:        p.MaxTokens,
		Temperature:      &p.Temperature,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
	}
	if p.TopP > 0 {
		req.TopP = &p.TopP
	}
	for i, msg := range msgs {
		req.Messages[i] = ChatCompletionMessage{
			Role:       wireRole(msg.Type),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
	}
	return req
}

func wireRole(t domain.MessageType) string {
	switch t {
	case domain.MessageTypeAI:
		return "assistant"
	case domain.MessageTypeSystem:
		return "system"
	case domain.MessageTypeTool:
		return "tool"
	default:
		return "user"
	}
}
