// Package message converts chat messages between the shapes the service
// accepts and the canonical domain.Message.
//
// Three inbound shapes are supported, each with its own conversion:
//
//   - Record: a typed role/content record (API schemas, stored rows)
//   - Mapping: a generic key/value map (decoded JSON)
//   - Native: a domain.ProviderMessage as exchanged with models
//
// Normalization never fails. Content that is not a string is stringified.
package message

import (
	"strings"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
)

// UnknownToolCallID is used for tool messages that carry no correlation id.
const UnknownToolCallID = "unknown"

// Kind identifies which shape an Inbound holds.
type Kind int

const (
	KindRecord Kind = iota + 1
	KindMapping
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindMapping:
		return "mapping"
	case KindNative:
		return "native"
	default:
		return "invalid"
	}
}

// Record is the structured role/content shape.
type Record struct {
	Role       string
	Content    any
	ToolCallID string
}

// Inbound is a message in any accepted shape. Build one with FromRecord,
// FromMapping or FromNative.
type Inbound struct {
	kind    Kind
	record  Record
	mapping map[string]any
	native  domain.ProviderMessage
}

// FromRecord wraps a structured record.
func FromRecord(r Record) Inbound {
	return Inbound{kind: KindRecord, record: r}
}

// FromMapping wraps a generic map such as a decoded JSON object.
func FromMapping(m map[string]any) Inbound {
	return Inbound{kind: KindMapping, mapping: m}
}

// FromNative wraps a provider-native message.
func FromNative(p domain.ProviderMessage) Inbound {
	return Inbound{kind: KindNative, native: p}
}

// FromMessage wraps an already canonical message.
func FromMessage(m domain.Message) Inbound {
	return FromRecord(Record{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID})
}

// Kind returns the shape held by in.
func (in Inbound) Kind() Kind {
	return in.kind
}

// ToCanonical converts any inbound shape to a canonical message.
func ToCanonical(in Inbound) domain.Message {
	switch in.kind {
	case KindRecord:
		return build(in.record.Role, in.record.Content, in.record.ToolCallID)
	case KindMapping:
		return fromMapping(in.mapping)
	case KindNative:
		return build(string(in.native.Type), in.native.Content, in.native.ToolCallID)
	default:
		// Zero-value Inbound.
		return domain.Message{Role: domain.RoleUser}
	}
}

func fromMapping(m map[string]any) domain.Message {
	role, _ := m["role"].(string)
	if role == "" {
		role, _ = m["type"].(string)
	}

	// Empty or missing tool_call_id falls through to id.
	var toolCallID string
	for _, key := range []string{"tool_call_id", "id"} {
		if id := Stringify(m[key]); id != "" {
			toolCallID = id
			break
		}
	}

	return build(role, m["content"], toolCallID)
}

func build(role string, content any, toolCallID string) domain.Message {
	msg := domain.Message{
		Role:    ResolveRole(role),
		Content: Stringify(content),
	}
	if msg.Role == domain.RoleTool {
		if toolCallID == "" {
			toolCallID = UnknownToolCallID
		}
		msg.ToolCallID = toolCallID
	}
	return msg
}

// ResolveRole maps both canonical and provider-native role names to a
// canonical role. Unrecognized roles become user.
func ResolveRole(role string) domain.Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", string(domain.MessageTypeHuman):
		return domain.RoleUser
	case "assistant", string(domain.MessageTypeAI):
		return domain.RoleAssistant
	case "system":
		return domain.RoleSystem
	case "tool":
		return domain.RoleTool
	default:
		return domain.RoleUser
	}
}

// ToProviderMessage converts a canonical message to provider-native form.
func ToProviderMessage(m domain.Message) domain.ProviderMessage {
	p := domain.ProviderMessage{Content: m.Content}
	switch m.Role {
	case domain.RoleAssistant:
		p.Type = domain.MessageTypeAI
	case domain.RoleSystem:
		p.Type = domain.MessageTypeSystem
	case domain.RoleTool:
		p.Type = domain.MessageTypeTool
		p.ToolCallID = m.ToolCallID
		if p.ToolCallID == "" {
			p.ToolCallID = UnknownToolCallID
		}
	default:
		p.Type = domain.MessageTypeHuman
	}
	return p
}

// FromProviderMessage converts a provider-native message back to canonical
// form. Messages whose content is empty are dropped and ok is false.
// Whitespace-only content is kept.
func FromProviderMessage(p domain.ProviderMessage) (msg domain.Message, ok bool) {
	msg = ToCanonical(FromNative(p))
	if msg.Content == "" {
		return domain.Message{}, false
	}
	return msg, true
}

// ToProviderMessages converts a canonical history to provider-native form.
func ToProviderMessages(msgs []domain.Message) []domain.ProviderMessage {
	out := make([]domain.ProviderMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ToProviderMessage(m)
	}
	return out
}
