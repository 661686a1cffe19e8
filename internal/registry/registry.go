// Package registry holds the ordered catalog of model configurations the
// resilience layer cycles through.
//
// The catalog is fixed at construction. Every entry owns one shared bound
// client built by the Factory; callers that need different parameters ask for
// an ad-hoc instance through Overrides, which never touches the catalog.
package registry

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
)

// Parameters are the sampling parameters sent with every request to a model.
type Parameters struct {
	Temperature      float64 `koanf:"temperature"`
	MaxTokens        int     `koanf:"max_tokens"`
	TopP             float64 `koanf:"top_p"`
	PresencePenalty  float64 `koanf:"presence_penalty"`
	FrequencyPenalty float64 `koanf:"frequency_penalty"`
}

// ModelConfig is one named catalog entry.
type ModelConfig struct {
	Name       string     `koanf:"name"`
	Parameters Parameters `koanf:"parameters"`
}

// Overrides carries ad-hoc parameters for a single lookup. Nil fields keep
// the base value.
type Overrides struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64
}

// IsZero reports whether no override is set.
func (o *Overrides) IsZero() bool {
	return o == nil || (o.Temperature == nil && o.MaxTokens == nil && o.TopP == nil &&
		o.PresencePenalty == nil && o.FrequencyPenalty == nil)
}

// Apply returns base with the set overrides laid on top.
func (o *Overrides) Apply(base Parameters) Parameters {
	if o == nil {
		return base
	}
	if o.Temperature != nil {
		base.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		base.MaxTokens = *o.MaxTokens
	}
	if o.TopP != nil {
		base.TopP = *o.TopP
	}
	if o.PresencePenalty != nil {
		base.PresencePenalty = *o.PresencePenalty
	}
	if o.FrequencyPenalty != nil {
		base.FrequencyPenalty = *o.FrequencyPenalty
	}
	return base
}

// Factory builds a client bound to one model configuration.
type Factory func(cfg ModelConfig) domain.ChatModel

// Entry is a catalog position: the configuration and its shared client.
type Entry struct {
	Config ModelConfig
	Model  domain.ChatModel
}

// NotFoundError is returned when a model name is not in the catalog.
type NotFoundError struct {
	Requested string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model %q not found, available models: %s",
		e.Requested, strings.Join(e.Available, ", "))
}

// Registry is the ordered, read-only model catalog.
type Registry struct {
	entries []Entry
	index   map[string]int
	factory Factory
}

// New builds the catalog in the given order. The catalog must be non-empty
// and names must be unique.
func New(factory Factory, configs ...ModelConfig) (*Registry, error) {
	if factory == nil {
		return nil, fmt.Errorf("model factory is required")
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	r := &Registry{
		entries: make([]Entry, 0, len(configs)),
		index:   make(map[string]int, len(configs)),
		factory: factory,
	}
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("model at position %d has no name", len(r.entries))
		}
		if _, dup := r.index[cfg.Name]; dup {
			return nil, fmt.Errorf("model %q defined twice", cfg.Name)
		}
		r.index[cfg.Name] = len(r.entries)
		r.entries = append(r.entries, Entry{Config: cfg, Model: factory(cfg)})
	}
	return r, nil
}

// Get returns the shared catalog client for name. When overrides are set a
// new client is built instead; an unknown name is then allowed and starts
// from zero parameters.
func (r *Registry) Get(name string, overrides *Overrides) (domain.ChatModel, error) {
	i, ok := r.index[name]
	if overrides.IsZero() {
		if !ok {
			return nil, &NotFoundError{Requested: name, Available: r.AllNames()}
		}
		return r.entries[i].Model, nil
	}

	var base Parameters
	if ok {
		base = r.entries[i].Config.Parameters
	}
	return r.factory(ModelConfig{Name: name, Parameters: overrides.Apply(base)}), nil
}

// AllNames returns the model names in catalog order.
func (r *Registry) AllNames() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Config.Name
	}
	return names
}

// At returns the entry at index modulo the catalog length. Any int is valid.
func (r *Registry) At(index int) Entry {
	n := len(r.entries)
	return r.entries[((index%n)+n)%n]
}

// IndexOf returns the catalog position of name.
func (r *Registry) IndexOf(name string) (int, bool) {
	i, ok := r.index[name]
	return i, ok
}

// Len returns the number of catalog entries.
func (r *Registry) Len() int {
	return len(r.entries)
}
