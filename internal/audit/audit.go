// Package audit records every read, write, merge and conflict to the
// append-only access log and forwards structured events to an optional
// tracing sink.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/consensus-memory/internal/model"
)

// Event actions delivered to a Sink.
const (
	ActionWrite            = "memory.write"
	ActionConflictDetected = "memory.conflict_detected"
	ActionConflictResolved = "memory.conflict_resolved"
)

// Writer persists access log records.
type Writer interface {
	AppendLog(ctx context.Context, rec *model.AccessLogRecord) error
}

// Event is what a Sink receives: ids, key and counts, never values.
type Event struct {
	Action     string
	SessionID  string
	AgentID    string
	Key        string
	EntryID    string
	ConflictID string
	Strategy   string
	Count      int
}

// Sink receives one event per write, detected conflict and resolved
// conflict. Implementations must not block for long and must not fail
// the caller.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Option configures a Log.
type Option func(*Log)

// WithSink attaches a tracing sink.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithLogger sets the logger used for append failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is the access/audit log.
type Log struct {
	w      Writer
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Log writing to w.
func New(w Writer, opts ...Option) *Log {
	l := &Log{w: w, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record appends one access log record. ID and Timestamp are filled in
// when empty. Failures are logged and returned; the audited operation
// has already taken effect by the time it is recorded.
func (l *Log) Record(ctx context.Context, rec model.AccessLogRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if err := l.w.AppendLog(ctx, &rec); err != nil {
		l.logger.Error("append access log failed",
			"session_id", rec.SessionID, "agent_id", rec.AgentID,
			"operation", rec.Operation, "key", rec.Key, "error", err)
		return err
	}
	return nil
}

// Emit forwards ev to the sink, if any.
func (l *Log) Emit(ctx context.Context, ev Event) {
	if l.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("audit sink panicked", "action", ev.Action, "panic", r)
		}
	}()
	l.sink.Emit(ctx, ev)
}
