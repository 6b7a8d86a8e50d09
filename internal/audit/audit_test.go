package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/consensus-memory/internal/model"
)

type memWriter struct {
	mu   sync.Mutex
	recs []*model.AccessLogRecord
	err  error
}

func (w *memWriter) AppendLog(_ context.Context, rec *model.AccessLogRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.recs = append(w.recs, rec)
	return nil
}

type sinkFunc func(ctx context.Context, ev Event)

func (f sinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	w := &memWriter{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := New(w, WithClock(func() time.Time { return at }))

	err := l.Record(context.Background(), model.AccessLogRecord{
		SessionID: "s", AgentID: "a", Operation: model.OpRead, Key: "k", Success: true,
	})
	require.NoError(t, err)
	require.Len(t, w.recs, 1)
	assert.NotEmpty(t, w.recs[0].ID)
	assert.Equal(t, at, w.recs[0].Timestamp)
}

func TestRecordReturnsWriterError(t *testing.T) {
	w := &memWriter{err: errors.New("disk full")}
	l := New(w)
	err := l.Record(context.Background(), model.AccessLogRecord{SessionID: "s", Operation: model.OpWrite})
	assert.EqualError(t, err, "disk full")
}

func TestEmitSurvivesSinkPanic(t *testing.T) {
	var got []Event
	l := New(&memWriter{}, WithSink(sinkFunc(func(_ context.Context, ev Event) {
		got = append(got, ev)
		if ev.Action == ActionConflictDetected {
			panic("boom")
		}
	})))

	ctx := context.Background()
	l.Emit(ctx, Event{Action: ActionWrite, Key: "k"})
	l.Emit(ctx, Event{Action: ActionConflictDetected, Key: "k", Count: 2})
	l.Emit(ctx, Event{Action: ActionConflictResolved, Key: "k"})
	assert.Len(t, got, 3)
}

func TestEmitWithoutSink(t *testing.T) {
	New(&memWriter{}).Emit(context.Background(), Event{Action: ActionWrite})
}
