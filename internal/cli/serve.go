package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rcliao/consensus-memory/internal/config"
	"github.com/rcliao/consensus-memory/internal/logging"
	"github.com/rcliao/consensus-memory/internal/metrics"
	"github.com/rcliao/consensus-memory/internal/notify"
	"github.com/rcliao/consensus-memory/internal/pool"
	"github.com/rcliao/consensus-memory/internal/tracing"
	"github.com/rcliao/consensus-memory/internal/worker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background merge, sweep and cleanup workers",
		Long: "Run the background workers until interrupted. Conflicts are resolved by their " +
			"strategy, undetected divergence is swept into conflicts and expired entries are " +
			"archived. Prometheus metrics are served on the configured address.",
		Run: runServe,
	}

	cmd.Flags().String("metrics-addr", "", "Metrics listen address (default: metrics.addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	opts := []pool.Option{pool.WithMetrics(m)}

	n, closeNotifier, err := buildNotifier(ctx, cfg, logging.New(cfg.Log))
	if err != nil {
		exitErr("notifier", err)
	}
	defer closeNotifier()
	opts = append(opts, pool.WithNotifier(n))

	if cfg.Tracing.Enabled {
		sink, err := tracing.Open(ctx, tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ExportEndpoint: cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
		})
		if err != nil {
			exitErr("open tracing", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sink.Shutdown(shutdownCtx)
		}()
		opts = append(opts, pool.WithSink(sink))
	}

	p, s, logger := openPool(ctx, cfg, opts...)
	defer s.Close()

	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", cfg.Metrics.Addr, "error", err)
		}
	}()

	logger.Info("serving",
		"store", cfg.Store.Driver,
		"notify", cfg.Notify.Type,
		"metrics_addr", cfg.Metrics.Addr,
		"merge_interval", cfg.Workers.MergeInterval,
		"sweep_interval", cfg.Workers.SweepInterval,
		"cleanup_interval", cfg.Workers.CleanupInterval,
	)

	g := worker.NewGroup(p, worker.Config{
		MergeInterval:   cfg.Workers.MergeInterval,
		SweepInterval:   cfg.Workers.SweepInterval,
		CleanupInterval: cfg.Workers.CleanupInterval,
		ArchiveAfter:    cfg.Workers.ArchiveAfter,
		ArchiveBatch:    cfg.Workers.ArchiveBatch,
	}, logger, m)
	if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("workers stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
	logger.Info("stopped")
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// buildNotifier returns the configured notifier and a func releasing it.
func buildNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pool.Notifier, func(), error) {
	switch cfg.Notify.Type {
	case "", "none":
		return notify.Nop{}, func() {}, nil
	case "log":
		return notify.NewLogNotifier(logger), func() {}, nil
	case "redis":
		rn, err := notify.NewRedisNotifier(ctx, &redis.Options{
			Addr:     cfg.Notify.Redis.Addr,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
		}, cfg.Notify.Redis.ChannelPrefix)
		if err != nil {
			return nil, nil, err
		}
		return rn, func() { _ = rn.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown notify type %q", cfg.Notify.Type)
}
