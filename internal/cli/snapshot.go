package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the active value of every key in a session",
		Run:   runSnapshot,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().Bool("keys-only", false, "Only output keys")
	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runSnapshot(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	cfg := loadConfig()
	p, s, _ := openPool(cmd.Context(), cfg)
	defer s.Close()

	snap, err := p.Snapshot(cmd.Context(), session)
	if err != nil {
		exitErr("snapshot", err)
	}

	if keysOnly {
		for k := range snap {
			fmt.Println(k)
		}
		return
	}
	printJSON(snap)
}
