package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/consensus-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts",
		Long:  "List open conflicts of a session. With --all, list every conflict including resolved ones.",
		Run:   runConflicts,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().StringP("key", "k", "", "Filter by key (with --all)")
	cmd.Flags().Bool("all", false, "Include resolved conflicts")
	cmd.Flags().IntP("limit", "l", 0, "Max results (with --all)")
	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runConflicts(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	key, _ := cmd.Flags().GetString("key")
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg := loadConfig()
	p, s, _ := openPool(cmd.Context(), cfg)
	defer s.Close()

	if all {
		cs, err := s.ListConflicts(cmd.Context(), store.ConflictFilter{SessionID: session, Key: key, Limit: limit})
		if err != nil {
			exitErr("list conflicts", err)
		}
		printJSON(cs)
		return
	}

	open, err := p.OpenConflicts(cmd.Context(), session)
	if err != nil {
		exitErr("list conflicts", err)
	}
	printJSON(open)
}
