package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/consensus-memory/internal/metrics"
	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/pool"
	"github.com/rcliao/consensus-memory/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePool struct {
	resolves, sweeps, expires, archives atomic.Int32
	archiveErr                          error

	mu      sync.Mutex
	lastAge time.Duration
}

func (f *fakePool) ResolveOpen(context.Context) (pool.ResolveResult, error) {
	f.resolves.Add(1)
	return pool.ResolveResult{}, nil
}

func (f *fakePool) SweepAll(context.Context) (pool.SweepResult, error) {
	f.sweeps.Add(1)
	return pool.SweepResult{}, nil
}

func (f *fakePool) ExpireCached(context.Context) (int, error) {
	f.expires.Add(1)
	return 0, nil
}

func (f *fakePool) Archive(_ context.Context, age time.Duration, _ int) (int, error) {
	f.archives.Add(1)
	f.mu.Lock()
	f.lastAge = age
	f.mu.Unlock()
	return 0, f.archiveErr
}

func TestGroupRunsLoopsUntilCancelled(t *testing.T) {
	fp := &fakePool{}
	g := NewGroup(fp, Config{
		MergeInterval:   5 * time.Millisecond,
		SweepInterval:   5 * time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
		ArchiveAfter:    time.Hour,
	}, quiet, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fp.resolves.Load() >= 2 && fp.sweeps.Load() >= 2 && fp.expires.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("group did not stop after cancel")
	}

	fp.mu.Lock()
	assert.Equal(t, time.Hour, fp.lastAge)
	fp.mu.Unlock()
}

func TestFailedCycleIsRetried(t *testing.T) {
	fp := &fakePool{archiveErr: errors.New("disk full")}
	m := metrics.New()
	g := &Group{logger: quiet, metrics: m}
	g.Add(CleanupLoop(fp, 5*time.Millisecond, time.Hour, 10, quiet))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.WorkerErrors.WithLabelValues("cleanup")) >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPanickingCycleDoesNotStopLoop(t *testing.T) {
	var calls atomic.Int32
	g := &Group{logger: quiet}
	g.Add(Loop{Name: "flaky", Interval: 5 * time.Millisecond, Cycle: func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestMergeWorkerResolvesRealConflicts(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	defer st.Close()

	p := pool.New(st, pool.WithLogger(quiet))
	ctx := context.Background()
	for agent, doc := range map[string]string{"agent-x": `{"steps":["x"]}`, "agent-y": `{"steps":["y"]}`} {
		_, err := p.Write(ctx, pool.WriteRequest{
			SessionID: "s1", AgentID: agent, Key: "plan", Value: model.MustParseJSON(doc),
		})
		require.NoError(t, err)
	}

	g := &Group{logger: quiet}
	g.Add(MergeLoop(p, 5*time.Millisecond, quiet))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.Run(runCtx)

	require.Eventually(t, func() bool {
		open, err := p.OpenConflicts(ctx, "s1")
		return err == nil && len(open) == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := p.Read(ctx, "s1", "agent-x", "plan")
	require.NoError(t, err)
	assert.True(t, got.Found())
}
