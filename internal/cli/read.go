package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read the active value of a key",
		Long:  "Read the active value of a key. Absent values report a status: not_found, expired, permission_denied or conflict_pending.",
		Run:   runRead,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().Bool("value-only", false, "Print only the value")

	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("key")

	RootCmd.AddCommand(cmd)
}

func runRead(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	key, _ := cmd.Flags().GetString("key")
	valueOnly, _ := cmd.Flags().GetBool("value-only")

	cfg := loadConfig()
	p, s, _ := openPool(cmd.Context(), cfg)
	defer s.Close()

	res, err := p.Read(cmd.Context(), session, agentID(), key)
	if err != nil {
		exitErr("read", err)
	}
	if valueOnly {
		if res.Found() {
			printJSON(res.Value)
		}
		return
	}
	printJSON(res)
}
