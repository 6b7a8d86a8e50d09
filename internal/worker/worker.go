// Package worker runs the pool's background loops: automatic conflict
// resolution, the conflict sweep and expiry cleanup. Each loop is a
// cancellable ticker; a Group runs them together and returns only after
// every loop has stopped.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/consensus-memory/internal/metrics"
	"github.com/rcliao/consensus-memory/internal/pool"
)

// Pool is the part of *pool.Pool the workers drive.
type Pool interface {
	ResolveOpen(ctx context.Context) (pool.ResolveResult, error)
	SweepAll(ctx context.Context) (pool.SweepResult, error)
	ExpireCached(ctx context.Context) (int, error)
	Archive(ctx context.Context, age time.Duration, batch int) (int, error)
}

// Loop is one periodic task.
type Loop struct {
	Name     string
	Interval time.Duration
	Cycle    func(ctx context.Context) error
}

// Config holds loop intervals and archival settings.
type Config struct {
	MergeInterval   time.Duration
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	ArchiveAfter    time.Duration
	ArchiveBatch    int
}

// Group runs loops until its context is cancelled.
type Group struct {
	loops   []Loop
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGroup returns a group with the merge, sweep and cleanup loops for p.
func NewGroup(p Pool, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Group{logger: logger, metrics: m}
	g.Add(MergeLoop(p, cfg.MergeInterval, logger))
	g.Add(SweepLoop(p, cfg.SweepInterval, logger))
	g.Add(CleanupLoop(p, cfg.CleanupInterval, cfg.ArchiveAfter, cfg.ArchiveBatch, logger))
	return g
}

// Add registers another loop. It must be called before Run.
func (g *Group) Add(l Loop) {
	g.loops = append(g.loops, l)
}

// Run starts every loop and blocks until ctx is cancelled and all loops
// have returned.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		eg.Go(func() error {
			g.run(ctx, l)
			return nil
		})
	}
	g.logger.Info("workers started", "count", len(g.loops))
	err := eg.Wait()
	g.logger.Info("workers stopped")
	return err
}

// run executes one cycle immediately and then one per tick. A failed
// cycle is logged and retried on the next tick.
func (g *Group) run(ctx context.Context, l Loop) {
	interval := l.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := g.cycle(ctx, l)
		if ctx.Err() != nil {
			return
		}
		g.metrics.WorkerCycle(l.Name, err)
		if err != nil {
			g.logger.Error("worker cycle failed", "worker", l.Name, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Group) cycle(ctx context.Context, l Loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.Cycle(ctx)
}

// MergeLoop resolves open conflicts with their default strategies.
func MergeLoop(p Pool, interval time.Duration, logger *slog.Logger) Loop {
	return Loop{Name: "merge", Interval: interval, Cycle: func(ctx context.Context) error {
		res, err := p.ResolveOpen(ctx)
		if res.Resolved > 0 || res.Failed > 0 {
			logger.Info("merge cycle", "resolved", res.Resolved, "failed", res.Failed)
		}
		return err
	}}
}

// SweepLoop looks for divergence the write path missed.
func SweepLoop(p Pool, interval time.Duration, logger *slog.Logger) Loop {
	return Loop{Name: "sweep", Interval: interval, Cycle: func(ctx context.Context) error {
		res, err := p.SweepAll(ctx)
		if res.Opened > 0 || res.Repaired > 0 {
			logger.Info("sweep cycle", "opened", res.Opened, "repaired", res.Repaired)
		}
		return err
	}}
}

// CleanupLoop expires cached entries past their TTL and archives
// entries that have been expired for longer than archiveAfter.
func CleanupLoop(p Pool, interval, archiveAfter time.Duration, batch int, logger *slog.Logger) Loop {
	return Loop{Name: "cleanup", Interval: interval, Cycle: func(ctx context.Context) error {
		expired, err := p.ExpireCached(ctx)
		if err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		archived, err := p.Archive(ctx, archiveAfter, batch)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		if expired > 0 || archived > 0 {
			logger.Info("cleanup cycle", "expired", expired, "archived", archived)
		}
		return nil
	}}
}
