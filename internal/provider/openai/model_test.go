package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
	"github.com/tjfontaine/polyglot-chat-backend/internal/testutil"
)

func testConfig(name string) registry.ModelConfig {
	return registry.ModelConfig{
		Name: name,
		Parameters: registry.Parameters{
			Temperature:      0.2,
			MaxTokens:        256,
			TopP:             0.8,
			PresencePenalty:  0.1,
			FrequencyPenalty: 0.1,
		},
	}
}

func conversation() []domain.ProviderMessage {
	return []domain.ProviderMessage{
		{Type: domain.MessageTypeSystem, Content: "be brief"},
		{Type: domain.MessageTypeHuman, Content: "Hello"},
		{Type: domain.MessageTypeAI, Content: "Hi"},
		{Type: domain.MessageTypeTool, Content: "42", ToolCallID: "call_1"},
	}
}

func TestModel_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "gpt-4o-mini" || req.MaxTokens != 256 || req.Stream {
			t.Errorf("request = %+v", req)
		}
		if req.Temperature == nil || *req.Temperature != 0.2 || req.TopP == nil || *req.TopP != 0.8 {
			t.Errorf("sampling parameters not sent: %+v", req)
		}
		wantRoles := []string{"system", "user", "assistant", "tool"}
		for i, m := range req.Messages {
			if m.Role != wantRoles[i] {
				t.Errorf("message %d role = %s, want %s", i, m.Role, wantRoles[i])
			}
		}
		if req.Messages[3].ToolCallID != "call_1" {
			t.Errorf("tool_call_id = %q", req.Messages[3].ToolCallID)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"gpt-4o-mini-2024-07-18","choices":[{"index":0,"message":{"role":"assistant","content":"Hello there!"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	m := NewModel(NewClient("test-key", WithBaseURL(server.URL)), testConfig("gpt-4o-mini"))
	resp, err := m.Invoke(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Type != domain.MessageTypeAI || resp.Content != "Hello there!" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Model != "gpt-4o-mini-2024-07-18" {
		t.Errorf("Model = %q", resp.Model)
	}
}

func TestModel_Invoke_BlockContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":[{"type":"reasoning","summary":"x"},{"type":"text","text":"A"}]}}]}`)
	}))
	defer server.Close()

	m := NewModel(NewClient("k", WithBaseURL(server.URL)), testConfig("gpt-4o"))
	resp, err := m.Invoke(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	blocks, ok := resp.Content.([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("Content = %#v, want two raw blocks", resp.Content)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("Model = %q, want configured name", resp.Model)
	}
}

func TestModel_Invoke_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantType      domain.ErrorType
		wantTransient bool
	}{
		{"rate limit", 429, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, domain.ErrorTypeRateLimit, true},
		{"server", 500, `{"error":{"message":"oops","type":"server_error"}}`, domain.ErrorTypeServer, true},
		{"bad gateway plain body", 502, `<html>bad gateway</html>`, domain.ErrorTypeServer, true},
		{"overloaded", 503, ``, domain.ErrorTypeOverloaded, true},
		{"gateway timeout", 504, ``, domain.ErrorTypeTimeout, true},
		{"auth", 401, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, domain.ErrorTypeAuthentication, false},
		{"context length", 400, `{"error":{"message":"too long","type":"invalid_request_error","code":"context_length_exceeded"}}`, domain.ErrorTypeContextLength, false},
		{"bad request", 400, `{"error":{"message":"bad","type":"invalid_request_error"}}`, domain.ErrorTypeInvalidRequest, false},
		{"not found", 404, `{"error":{"message":"no such model","code":"model_not_found"}}`, domain.ErrorTypeNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			m := NewModel(NewClient("k", WithBaseURL(server.URL)), testConfig("gpt-4o"))
			_, err := m.Invoke(context.Background(), conversation())

			var apiErr *domain.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Invoke() error = %v, want *domain.APIError", err)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", apiErr.Type, tt.wantType)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if domain.IsTransient(err) != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v", domain.IsTransient(err), tt.wantTransient)
			}
		})
	}
}

func TestModel_Invoke_TransportTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient("k", WithBaseURL(server.URL), WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := NewModel(client, testConfig("gpt-4o")).Invoke(context.Background(), conversation())

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeTimeout {
		t.Fatalf("Invoke() error = %v, want timeout APIError", err)
	}
}

func TestModel_Invoke_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewModel(NewClient("k", WithBaseURL(server.URL)), testConfig("gpt-4o")).Invoke(ctx, conversation())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Invoke() error = %v, want context.DeadlineExceeded", err)
	}
	if domain.IsTransient(err) {
		t.Error("a done request context must not be transient")
	}
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Errorf("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}))
}

func TestModel_Stream(t *testing.T) {
	server := sseServer(t,
		`data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`: keep-alive`,
		`data: {"choices":[{"index":0,"delta":{"content":" world"}}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	m := NewModel(NewClient("k", WithBaseURL(server.URL)), testConfig("gpt-4o"))
	events, err := m.Stream(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var got string
	var n int
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("event error = %v", ev.Err)
		}
		got += ev.Content
		n++
	}
	if got != "Hello world" || n != 2 {
		t.Errorf("content = %q over %d events, want \"Hello world\" over 2", got, n)
	}
}

func TestModel_Stream_MidStreamError(t *testing.T) {
	server := sseServer(t,
		`data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}`,
		`data: {not json`,
	)
	defer server.Close()

	m := NewModel(NewClient("k", WithBaseURL(server.URL)), testConfig("gpt-4o"))
	events, err := m.Stream(context.Background(), conversation())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var all []domain.StreamEvent
	for ev := range events {
		all = append(all, ev)
	}
	if len(all) != 2 {
		t.Fatalf("events = %+v, want 2", all)
	}
	if all[0].Content != "partial" || all[1].Err == nil {
		t.Errorf("events = %+v, want content then error", all)
	}
}

func TestModel_Stream_OpenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	m := NewModel(NewClient("k", WithBaseURL(server.URL)), testConfig("gpt-4o"))
	_, err := m.Stream(context.Background(), conversation())
	if !domain.IsTransient(err) {
		t.Errorf("Stream() error = %v, want transient", err)
	}
}

func TestModel_Stream_Cancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	m := NewModel(NewClient("k", WithBaseURL(server.URL)), testConfig("gpt-4o"))
	events, err := m.Stream(ctx, conversation())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if ev := <-events; ev.Content != "a" {
		t.Fatalf("first event = %+v", ev)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel not closed after cancel")
	}
}

func TestModel_Invoke_Recorded(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: OPENAI_API_KEY not set")
	}

	recorder, cleanup := testutil.NewVCRRecorder(t, "openai_invoke")
	defer cleanup()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = "test-key"
	}

	client := NewClient(apiKey, WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	resp, err := NewModel(client, testConfig("gpt-4o-mini")).Invoke(context.Background(), []domain.ProviderMessage{
		{Type: domain.MessageTypeHuman, Content: "Say hello"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if s, _ := resp.Content.(string); s == "" {
		t.Error("Expected content in response")
	}
	if !strings.HasPrefix(resp.Model, "gpt-4o-mini") {
		t.Errorf("Model = %q, want gpt-4o-mini*", resp.Model)
	}
}
