package message

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
)

const (
	blockTypeText      = "text"
	blockTypeReasoning = "reasoning"
)

// Stringify coerces any content value to a string. Structured values are
// rendered as JSON. It never fails.
func Stringify(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	case fmt.Stringer:
		return c.String()
	case error:
		return c.Error()
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(c)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// FlattenResponseContent rewrites resp.Content to a single string and returns
// resp. Text blocks and plain strings are concatenated in order, reasoning
// blocks are dropped, and any other block is stringified and kept.
func FlattenResponseContent(resp *domain.ProviderMessage) *domain.ProviderMessage {
	if resp == nil {
		return nil
	}

	blocks, ok := asBlocks(resp.Content)
	if !ok {
		resp.Content = Stringify(resp.Content)
		return resp
	}

	var sb strings.Builder
	for _, block := range blocks {
		switch b := block.(type) {
		case string:
			sb.WriteString(b)
		case map[string]any:
			switch b["type"] {
			case blockTypeText:
				sb.WriteString(Stringify(b["text"]))
			case blockTypeReasoning:
				slog.Debug("dropping reasoning block from response", slog.String("model", resp.Model))
			default:
				sb.WriteString(Stringify(b))
			}
		default:
			sb.WriteString(Stringify(b))
		}
	}

	resp.Content = sb.String()
	return resp
}

func asBlocks(content any) ([]any, bool) {
	switch c := content.(type) {
	case []any:
		return c, true
	case []string:
		out := make([]any, len(c))
		for i, s := range c {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(c))
		for i, m := range c {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}
