package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(Config{Enabled: false}, discard)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracer_ExportsSpans(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	shutdown, err := InitTracer(Config{
		Enabled:     true,
		ServiceName: "chat-test",
		Environment: "test",
		Writer:      &buf,
	}, discard)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "unit-span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "unit-span") {
		t.Errorf("exported spans missing unit-span: %s", out)
	}
	if !strings.Contains(out, "chat-test") {
		t.Errorf("exported spans missing service name: %s", out)
	}
}
