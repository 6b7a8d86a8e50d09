package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/consensus-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Resolve an open conflict",
		Long:  "Resolve the newest open conflict on a key, or a specific conflict with --conflict.",
		Run:   runMerge,
	}

	cmd.Flags().StringP("session", "s", "", "Session id")
	cmd.Flags().StringP("key", "k", "", "Key")
	cmd.Flags().String("conflict", "", "Conflict id (instead of --session/--key)")
	cmd.Flags().String("strategy", "", "last_write_wins, structural_merge or consensus (default: the conflict's own)")

	RootCmd.AddCommand(cmd)
}

func runMerge(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	key, _ := cmd.Flags().GetString("key")
	conflictID, _ := cmd.Flags().GetString("conflict")
	strategyStr, _ := cmd.Flags().GetString("strategy")

	strategy, err := model.ParseStrategy(strategyStr)
	if err != nil {
		exitErr("merge", err)
	}
	if conflictID == "" && (session == "" || key == "") {
		exitErr("merge", fmt.Errorf("--conflict or both --session and --key are required"))
	}

	cfg := loadConfig()
	p, s, _ := openPool(cmd.Context(), cfg)
	defer s.Close()

	var ok bool
	if conflictID != "" {
		ok, err = p.ResolveConflict(cmd.Context(), conflictID, agentID(), strategy)
	} else {
		ok, err = p.Merge(cmd.Context(), session, agentID(), key, strategy)
	}
	if err != nil {
		exitErr("merge", err)
	}
	printJSON(map[string]bool{"merged": ok})
}
