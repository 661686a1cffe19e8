// Package resilience calls models with bounded retries and circular fallback
// across the model catalog.
//
// A Caller keeps a cursor into the registry. Each call starts at the cursor,
// retries transient failures on the same model with backoff, then moves to
// the next model, wrapping around, until one answers or every model has been
// tried once. The cursor follows those moves and is never reset, so a model
// that just failed is not the first choice for the next call.
//
// One Caller is meant to be shared by all requests in a process. The cursor
// is guarded by a mutex; concurrent calls each walk the catalog from where
// the cursor was when they started and the last move wins.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
	"github.com/tjfontaine/polyglot-chat-backend/internal/registry"
)

const (
	// DefaultMaxAttempts is the number of calls made to one model before falling back.
	DefaultMaxAttempts = 3

	tracerName = "github.com/tjfontaine/polyglot-chat-backend/internal/resilience"
)

// Option configures a Caller.
type Option func(*Caller)

// WithMaxAttempts sets the attempts per model, including the first call.
func WithMaxAttempts(n int) Option {
	return func(c *Caller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the wait between attempts on the same model.
func WithBackoff(policy BackoffPolicy) Option {
	return func(c *Caller) {
		if policy != nil {
			c.backoff = policy
		}
	}
}

// WithDefaultModel positions the cursor on name. Unknown names leave the
// cursor on the first catalog entry.
func WithDefaultModel(name string) Option {
	return func(c *Caller) {
		c.defaultModel = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Caller) {
		c.logger = logger
	}
}

// WithTracerProvider sets the tracer provider used for call spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Caller) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// Caller invokes models from a registry with retry and fallback.
type Caller struct {
	registry     *registry.Registry
	maxAttempts  int
	backoff      BackoffPolicy
	defaultModel string
	logger       *slog.Logger
	tracer       trace.Tracer

	mu     sync.Mutex
	index  int
	active domain.ChatModel
}

// New creates a Caller over reg.
func New(reg *registry.Registry, opts ...Option) *Caller {
	c := &Caller{
		registry:    reg,
		maxAttempts: DefaultMaxAttempts,
		backoff:     ExponentialBackoff(1, 2*time.Second, 10*time.Second),
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.defaultModel != "" {
		if i, ok := reg.IndexOf(c.defaultModel); ok {
			c.index = i
		} else {
			c.logger.Warn("default model not in catalog, using first entry",
				slog.String("model", c.defaultModel),
				slog.String("using", reg.At(0).Config.Name),
			)
		}
	}
	c.active = reg.At(c.index).Model
	return c
}

// CallOption adjusts a single Invoke or Stream call.
type CallOption func(*callOptions)

type callOptions struct {
	model     string
	overrides *registry.Overrides
}

// WithModel starts the call on the named model. When the name is in the
// catalog the cursor moves to it.
func WithModel(name string) CallOption {
	return func(o *callOptions) {
		o.model = name
	}
}

// WithOverrides starts the call on an ad-hoc instance built with these
// parameters.
func WithOverrides(overrides *registry.Overrides) CallOption {
	return func(o *callOptions) {
		o.overrides = overrides
	}
}

// CurrentModel returns the model name and catalog position the cursor is on.
func (c *Caller) CurrentModel() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Name(), c.index
}

// Invoke sends msgs and returns the first successful response.
func (c *Caller) Invoke(ctx context.Context, msgs []domain.ProviderMessage, opts ...CallOption) (*domain.ProviderMessage, error) {
	ctx, span := c.tracer.Start(ctx, "resilience.invoke")
	defer span.End()

	resp, _, err := run(ctx, c, span, opts, func(ctx context.Context, m domain.ChatModel) (*domain.ProviderMessage, error) {
		return m.Invoke(ctx, msgs)
	})
	return resp, err
}

// Stream opens a streamed response with the same retry and fallback as
// Invoke. Only opening the stream is retried; once events flow, a failure
// arrives as the final event on the channel. Every event carries the name of
// the model that served it, and the call's span stays open until the stream
// ends.
func (c *Caller) Stream(ctx context.Context, msgs []domain.ProviderMessage, opts ...CallOption) (<-chan domain.StreamEvent, error) {
	ctx, span := c.tracer.Start(ctx, "resilience.stream")

	events, served, err := run(ctx, c, span, opts, func(ctx context.Context, m domain.ChatModel) (<-chan domain.StreamEvent, error) {
		return m.Stream(ctx, msgs)
	})
	if err != nil {
		span.End()
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		// The span ends before out closes so readers see it finished.
		defer close(out)
		defer span.End()

		start := time.Now()
		count := 0
		for ev := range events {
			ev.Model = served
			if ev.Err != nil {
				span.RecordError(ev.Err)
				span.SetStatus(codes.Error, ev.Err.Error())
			} else {
				count++
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, ctx.Err().Error())
				for range events {
				}
				return
			}
		}
		span.SetAttributes(
			attribute.Int("llm.stream.events", count),
			attribute.Int64("llm.stream.duration_ms", time.Since(start).Milliseconds()),
		)
	}()
	return out, nil
}

// position is where a call currently stands in the catalog.
type position struct {
	index int
	model domain.ChatModel
	// adhoc is set while the model is an override instance outside the catalog.
	adhoc bool
}

func (c *Caller) start(o callOptions) (position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := o.model
	if name == "" {
		if o.overrides.IsZero() {
			return position{index: c.index, model: c.active}, nil
		}
		name = c.active.Name()
	}

	model, err := c.registry.Get(name, o.overrides)
	if err != nil {
		return position{}, err
	}
	if i, ok := c.registry.IndexOf(name); ok {
		c.index = i
		c.active = c.registry.At(i).Model
		return position{index: i, model: model}, nil
	}
	// Outside the catalog: the first fallback lands on the cursor.
	return position{index: c.index - 1, model: model, adhoc: true}, nil
}

func (c *Caller) advance(from int) position {
	n := c.registry.Len()
	idx := ((from+1)%n + n) % n
	next := c.registry.At(idx)

	c.mu.Lock()
	c.index = idx
	c.active = next.Model
	c.mu.Unlock()

	return position{index: idx, model: next.Model}
}

func (c *Caller) settle(pos position) {
	if pos.adhoc {
		return
	}
	c.mu.Lock()
	c.index = pos.index
	c.active = c.registry.At(pos.index).Model
	c.mu.Unlock()
}

// run walks the catalog until call succeeds and returns the result with the
// name of the model that produced it.
func run[T any](ctx context.Context, c *Caller, span trace.Span, opts []CallOption, call func(context.Context, domain.ChatModel) (T, error)) (T, string, error) {
	var zero T

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	pos, err := c.start(o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, "", err
	}
	span.SetAttributes(attribute.String("llm.model.requested", pos.model.Name()))

	budget := c.registry.Len()
	if pos.adhoc {
		budget++
	}

	for tried := 1; ; tried++ {
		result, err := retry(ctx, c, pos.model, call)
		if err == nil {
			c.settle(pos)
			span.SetAttributes(
				attribute.String("llm.model.served", pos.model.Name()),
				attribute.Int("llm.models_tried", tried),
			)
			return result, pos.model.Name(), nil
		}

		if !domain.IsTransient(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return zero, "", err
		}

		if tried >= budget {
			exhausted := &AllModelsExhaustedError{ModelsTried: tried, LastErr: err}
			c.logger.Error("all models failed",
				slog.Int("models_tried", tried),
				slog.String("last_model", pos.model.Name()),
				slog.String("error", err.Error()),
			)
			span.RecordError(exhausted)
			span.SetStatus(codes.Error, exhausted.Error())
			return zero, "", exhausted
		}

		failed := pos.model.Name()
		pos = c.advance(pos.index)
		c.logger.Warn("model failed after retries, switching to fallback",
			slog.String("failed_model", failed),
			slog.String("next_model", pos.model.Name()),
			slog.Int("models_tried", tried),
			slog.Int("total_models", budget),
			slog.String("error", err.Error()),
		)
		span.AddEvent("fallback", trace.WithAttributes(
			attribute.String("llm.model.failed", failed),
			attribute.String("llm.model.next", pos.model.Name()),
		))
	}
}

// retry calls model up to maxAttempts times while it fails transiently.
func retry[T any](ctx context.Context, c *Caller, model domain.ChatModel, call func(context.Context, domain.ChatModel) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := call(ctx, model)
		if err == nil {
			return result, nil
		}
		// An abandoned request is never retried.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if !domain.IsTransient(err) {
			return zero, err
		}

		lastErr = err
		if attempt == c.maxAttempts {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("transient provider error, retrying",
			slog.String("model", model.Name()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.maxAttempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
