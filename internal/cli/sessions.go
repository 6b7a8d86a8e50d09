package cli

import (
	"github.com/spf13/cobra"
)

type sessionRow struct {
	SessionID     string   `json:"session_id"`
	Agents        []string `json:"agents"`
	OpenConflicts bool     `json:"open_conflicts"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions with their writers",
		Run:   runSessions,
	}

	RootCmd.AddCommand(cmd)
}

func runSessions(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	s := openStore(cmd.Context(), cfg)
	defer s.Close()

	ids, err := s.Sessions(cmd.Context())
	if err != nil {
		exitErr("list sessions", err)
	}
	pending, err := s.SessionsWithOpenConflicts(cmd.Context())
	if err != nil {
		exitErr("list sessions", err)
	}
	open := make(map[string]bool, len(pending))
	for _, id := range pending {
		open[id] = true
	}

	rows := make([]sessionRow, 0, len(ids))
	for _, id := range ids {
		agents, err := s.Agents(cmd.Context(), id)
		if err != nil {
			exitErr("list agents", err)
		}
		rows = append(rows, sessionRow{SessionID: id, Agents: agents, OpenConflicts: open[id]})
	}
	printJSON(rows)
}
