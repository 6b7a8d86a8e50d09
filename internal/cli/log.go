package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/consensus-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the access log",
		Run:   runLog,
	}

	cmd.Flags().StringP("session", "s", "", "Filter by session")
	cmd.Flags().String("by", "", "Filter by agent")
	cmd.Flags().StringP("key", "k", "", "Filter by key")
	cmd.Flags().String("since", "", "Only records newer than this, e.g. 30m, 24h")
	cmd.Flags().IntP("limit", "l", 100, "Max results")

	RootCmd.AddCommand(cmd)
}

func runLog(cmd *cobra.Command, args []string) {
	f := store.LogFilter{}
	f.SessionID, _ = cmd.Flags().GetString("session")
	f.AgentID, _ = cmd.Flags().GetString("by")
	f.Key, _ = cmd.Flags().GetString("key")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetString("since")
	if since != "" {
		d, err := parseTTL(since)
		if err != nil {
			exitErr("parse since", err)
		}
		f.Since = time.Now().Add(-d)
	}

	cfg := loadConfig()
	s := openStore(cmd.Context(), cfg)
	defer s.Close()

	logs, err := s.ListLogs(cmd.Context(), f)
	if err != nil {
		exitErr("list logs", err)
	}
	printJSON(logs)
}
