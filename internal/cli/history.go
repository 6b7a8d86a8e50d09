package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every version of a key, newest first",
		Run:   runHistory,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("key")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	key, _ := cmd.Flags().GetString("key")

	cfg := loadConfig()
	s := openStore(cmd.Context(), cfg)
	defer s.Close()

	entries, err := s.History(cmd.Context(), session, key)
	if err != nil {
		exitErr("history", err)
	}
	printJSON(entries)
}
