package registry

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
)

type stubModel struct {
	cfg ModelConfig
}

func (m *stubModel) Name() string { return m.cfg.Name }

func (m *stubModel) Invoke(ctx context.Context, msgs []domain.ProviderMessage) (*domain.ProviderMessage, error) {
	return &domain.ProviderMessage{Type: domain.MessageTypeAI, Content: m.cfg.Name}, nil
}

func (m *stubModel) Stream(ctx context.Context, msgs []domain.ProviderMessage) (<-chan domain.StreamEvent, error) {
	ch := make(chan domain.StreamEvent)
	close(ch)
	return ch, nil
}

func stubFactory(cfg ModelConfig) domain.ChatModel {
	return &stubModel{cfg: cfg}
}

func newTestRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	configs := make([]ModelConfig, len(names))
	for i, n := range names {
		configs[i] = ModelConfig{Name: n, Parameters: Parameters{Temperature: 0.2, MaxTokens: 100}}
	}
	r, err := New(stubFactory, configs...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
		configs []ModelConfig
	}{
		{"nil factory", nil, []ModelConfig{{Name: "a"}}},
		{"empty catalog", stubFactory, nil},
		{"missing name", stubFactory, []ModelConfig{{Name: ""}}},
		{"duplicate name", stubFactory, []ModelConfig{{Name: "a"}, {Name: "a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.factory, tt.configs...); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestGet_SharedInstance(t *testing.T) {
	r := newTestRegistry(t, "m1", "m2")

	a, err := r.Get("m1", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	b, err := r.Get("m1", &Overrides{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a != b {
		t.Error("Get() without overrides should return the shared catalog instance")
	}
	if a != r.At(0).Model {
		t.Error("Get() instance differs from catalog entry")
	}
}

func TestGet_OverridesBuildNewInstance(t *testing.T) {
	r := newTestRegistry(t, "m1", "m2")

	temp := 0.9
	m, err := r.Get("m1", &Overrides{Temperature: &temp})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m == r.At(0).Model {
		t.Fatal("Get() with overrides returned the shared instance")
	}

	got := m.(*stubModel).cfg.Parameters
	if got.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want 0.9", got.Temperature)
	}
	if got.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want catalog value 100", got.MaxTokens)
	}

	// Catalog is untouched.
	if r.At(0).Config.Parameters.Temperature != 0.2 {
		t.Errorf("catalog Temperature mutated to %v", r.At(0).Config.Parameters.Temperature)
	}
}

func TestGet_UnknownName(t *testing.T) {
	r := newTestRegistry(t, "m1", "m2")

	_, err := r.Get("nope", nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Get() error = %v, want *NotFoundError", err)
	}
	if nf.Requested != "nope" {
		t.Errorf("Requested = %q, want nope", nf.Requested)
	}
	if !reflect.DeepEqual(nf.Available, []string{"m1", "m2"}) {
		t.Errorf("Available = %v", nf.Available)
	}

	maxTokens := 50
	m, err := r.Get("adhoc", &Overrides{MaxTokens: &maxTokens})
	if err != nil {
		t.Fatalf("Get() with overrides error = %v", err)
	}
	if m.Name() != "adhoc" {
		t.Errorf("Name() = %q, want adhoc", m.Name())
	}
}

func TestAllNames_Order(t *testing.T) {
	r := newTestRegistry(t, "c", "a", "b")
	if got := r.AllNames(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("AllNames() = %v", got)
	}
}

func TestAt_Wraps(t *testing.T) {
	r := newTestRegistry(t, "m1", "m2", "m3")

	tests := []struct {
		index int
		want  string
	}{
		{0, "m1"},
		{2, "m3"},
		{3, "m1"},
		{7, "m2"},
		{-1, "m3"},
		{-3, "m1"},
		{-4, "m3"},
		{-1 << 40, "m3"},
	}

	for _, tt := range tests {
		if got := r.At(tt.index).Config.Name; got != tt.want {
			t.Errorf("At(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestDefaultCatalog(t *testing.T) {
	prod := DefaultCatalog("production")
	dev := DefaultCatalog("development")

	if len(prod) != 2 || prod[0].Name != "gpt-4o-mini" || prod[1].Name != "gpt-4o" {
		t.Fatalf("DefaultCatalog() = %+v", prod)
	}
	if prod[0].Parameters.TopP != 0.95 || dev[0].Parameters.TopP != 0.8 {
		t.Errorf("TopP prod=%v dev=%v", prod[0].Parameters.TopP, dev[0].Parameters.TopP)
	}
	if prod[0].Parameters.PresencePenalty != 0.1 || dev[0].Parameters.PresencePenalty != 0 {
		t.Errorf("PresencePenalty prod=%v dev=%v", prod[0].Parameters.PresencePenalty, dev[0].Parameters.PresencePenalty)
	}
}
