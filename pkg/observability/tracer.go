package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the backend.
const (
	SpanToolInvoke  = "mcp.invoke"
	SpanTurnProcess = "orchestrator.turn"
	SpanAgentDispatch = "orchestrator.dispatch"
	SpanRAGQuery    = "rag.query"
	SpanRAGIngest   = "rag.ingest"
)

// Attribute keys.
const (
	AttrServerName = "mcp.server"
	AttrOperation  = "mcp.operation"
	AttrAgentName  = "agent.name"
	AttrConversationID = "conversation.id"
)

// TracingConfig controls the tracer provider.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter,omitempty"` // "stdout" is the only built-in exporter
}

var tracerProvider *sdktrace.TracerProvider

// InitTracing sets up the global tracer provider. With tracing disabled the
// otel no-op provider stays in place and GetTracer spans cost nothing.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tracerProvider)

	return tracerProvider.Shutdown, nil
}

// GetTracer returns a named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
