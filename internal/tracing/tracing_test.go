package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rcliao/consensus-memory/internal/audit"
)

func TestSinkRecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	sink := NewSink(tp)

	sink.Emit(context.Background(), audit.Event{
		Action:     audit.ActionConflictDetected,
		SessionID:  "s1",
		AgentID:    "agent-b",
		Key:        "plan",
		EntryID:    "e2",
		ConflictID: "c1",
		Strategy:   "last_write_wins",
		Count:      2,
	})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, audit.ActionConflictDetected, spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "s1", attrs["session.id"].AsString())
	assert.Equal(t, "c1", attrs["memory.conflict_id"].AsString())
	assert.Equal(t, int64(2), attrs["memory.count"].AsInt64())
}

func TestSinkOmitsEmptyIDs(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	NewSink(tp).Emit(context.Background(), audit.Event{Action: audit.ActionWrite, SessionID: "s1", Key: "k", Count: 1})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	for _, kv := range spans[0].Attributes() {
		assert.NotEqual(t, attribute.Key("memory.conflict_id"), kv.Key)
		assert.NotEqual(t, attribute.Key("memory.entry_id"), kv.Key)
	}
}

func TestOpenedSinkFlushesOnShutdown(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	sink, err := open(ctx, "consensus-test", exp)
	require.NoError(t, err)

	sink.Emit(ctx, audit.Event{Action: audit.ActionWrite, SessionID: "s1", Key: "plan", Count: 1})
	require.NoError(t, sink.Shutdown(ctx))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, audit.ActionWrite, spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "consensus-test", service)
}

func TestBorrowedSinkShutdownIsNoop(t *testing.T) {
	assert.NoError(t, NewSink(nil).Shutdown(context.Background()))
}
