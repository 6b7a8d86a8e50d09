// Package tracing exports pool events as OpenTelemetry spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/consensus-memory/internal/audit"
)

const instrumentationName = "github.com/rcliao/consensus-memory"

// Config configures the OTLP/HTTP exporter.
type Config struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// Sink turns audit events into short spans. Only ids, keys and counts
// are attached; values never leave the pool.
type Sink struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Open returns a sink that batches spans to an OTLP/HTTP collector.
// The provider is owned by the sink and is not installed globally;
// call Shutdown to flush it.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.ExportEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	return open(ctx, cfg.ServiceName, exp)
}

func open(ctx context.Context, service string, exp sdktrace.SpanExporter) (*Sink, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	return &Sink{tracer: tp.Tracer(instrumentationName), provider: tp}, nil
}

// NewSink returns a sink on tp, or on the global provider when tp is
// nil. The caller keeps ownership of tp.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Sink{tracer: tp.Tracer(instrumentationName)}
}

// Shutdown flushes and stops a provider created by Open.
func (s *Sink) Shutdown(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	return s.provider.Shutdown(ctx)
}

var _ audit.Sink = (*Sink)(nil)

func (s *Sink) Emit(ctx context.Context, ev audit.Event) {
	attrs := []attribute.KeyValue{
		attribute.String("session.id", ev.SessionID),
		attribute.String("agent.id", ev.AgentID),
		attribute.String("memory.key", ev.Key),
		attribute.Int("memory.count", ev.Count),
	}
	if ev.EntryID != "" {
		attrs = append(attrs, attribute.String("memory.entry_id", ev.EntryID))
	}
	if ev.ConflictID != "" {
		attrs = append(attrs, attribute.String("memory.conflict_id", ev.ConflictID))
	}
	if ev.Strategy != "" {
		attrs = append(attrs, attribute.String("memory.strategy", ev.Strategy))
	}
	_, span := s.tracer.Start(ctx, ev.Action, trace.WithAttributes(attrs...))
	span.End()
}
