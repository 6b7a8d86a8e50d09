package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session as JSON",
		Long:  "Export every entry version, conflict and access log record of a session. The output can be loaded with import.",
		Run:   runExport,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")

	cfg := loadConfig()
	s := openStore(cmd.Context(), cfg)
	defer s.Close()

	ex, err := s.Export(cmd.Context(), session)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(ex)
}
