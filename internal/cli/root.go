// Package cli implements the consensus-memory CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/consensus-memory/internal/config"
	"github.com/rcliao/consensus-memory/internal/logging"
	"github.com/rcliao/consensus-memory/internal/notify"
	"github.com/rcliao/consensus-memory/internal/pool"
	"github.com/rcliao/consensus-memory/internal/registry"
	"github.com/rcliao/consensus-memory/internal/store"
)

var (
	configPath string
	dbPath     string
	agentFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "consensus-memory",
	Short: "Shared memory pool for cooperating agents",
	Long: "A multi-writer key/value memory shared by the agents of a planning session. " +
		"Divergent writes are parked as conflicts and merged by policy.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml, json or toml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Store DSN; a file path for sqlite (default: $CONSENSUS_STORE_DSN or ~/.consensus-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&agentFlag, "agent", "a", "", "Acting agent id (default: $CONSENSUS_AGENT)")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.Store.DSN = dbPath
	}
	return cfg
}

func openStore(ctx context.Context, cfg *config.Config) store.Store {
	s, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		exitErr("open store", err)
	}
	return s
}

// openPool wires a pool for one-shot commands. Notifications go to the
// log; serve builds its own pool with the configured broker.
func openPool(ctx context.Context, cfg *config.Config, opts ...pool.Option) (*pool.Pool, store.Store, *slog.Logger) {
	logger := logging.New(cfg.Log)
	s := openStore(ctx, cfg)
	base := []pool.Option{
		pool.WithLogger(logger),
		pool.WithNotifier(notify.NewLogNotifier(logger)),
		pool.WithAdmins(cfg.Access.Admins...),
		pool.WithDefaultStrategy(cfg.Strategy()),
		pool.WithRegistry(registry.Chain{registry.Static(cfg.Members()), registry.Writers{Store: s}}),
	}
	return pool.New(s, append(base, opts...)...), s, logger
}

func agentID() string {
	if agentFlag != "" {
		return agentFlag
	}
	if env := os.Getenv("CONSENSUS_AGENT"); env != "" {
		return env
	}
	exitErr("agent", fmt.Errorf("--agent or $CONSENSUS_AGENT is required"))
	return ""
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
