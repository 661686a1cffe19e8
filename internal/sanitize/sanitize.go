// Package sanitize validates and cleans inbound chat text.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxContentLength is the longest accepted message content, in characters.
const MaxContentLength = 3000

var (
	scriptTag        = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	escapedScriptTag = regexp.MustCompile(`(?s)&lt;script.*?&gt;.*?&lt;/script&gt;`)
)

var allowedRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// ValidationError reports why a message was rejected.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("messages[%d].%s: %s", e.Index, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateMessage checks a single inbound chat message.
func ValidateMessage(role, content string) error {
	return validate(-1, role, content)
}

// Message is the minimal view ValidateMessages needs.
type Message struct {
	Role    string
	Content string
}

// ValidateMessages checks a chat request body. At least one message is required.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return &ValidationError{Index: -1, Field: "messages", Message: "at least one message is required"}
	}
	for i, m := range msgs {
		if err := validate(i, m.Role, m.Content); err != nil {
			return err
		}
	}
	return nil
}

func validate(idx int, role, content string) error {
	if !allowedRoles[role] {
		return &ValidationError{Index: idx, Field: "role", Message: fmt.Sprintf("unsupported role %q", role)}
	}

	n := utf8.RuneCountInString(content)
	switch {
	case n == 0:
		return &ValidationError{Index: idx, Field: "content", Message: "must not be empty"}
	case n > MaxContentLength:
		return &ValidationError{Index: idx, Field: "content", Message: fmt.Sprintf("exceeds %d characters", MaxContentLength)}
	}

	if scriptTag.MatchString(content) {
		return &ValidationError{Index: idx, Field: "content", Message: "contains potentially harmful script tags"}
	}
	if strings.ContainsRune(content, 0) {
		return &ValidationError{Index: idx, Field: "content", Message: "contains null bytes"}
	}
	return nil
}

// String HTML-escapes s and removes script elements and NUL bytes.
func String(s string) string {
	s = html.EscapeString(s)
	s = escapedScriptTag.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}
