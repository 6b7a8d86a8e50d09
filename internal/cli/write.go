package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/pool"
)

func init() {
	cmd := &cobra.Command{
		Use:   "write [value]",
		Short: "Write a value to a session key",
		Long: "Write a value. The value is parsed as JSON (text that is not JSON is stored as a string) " +
			"and can be a positional arg or piped via stdin. A value that diverges from the key's " +
			"current data is parked as a conflict.",
		Run: runWrite,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().String("type", "", "Data type: map, sequence, string, number, bool, null (default: inferred)")
	cmd.Flags().String("access", "read_write", "Access level: read_only, read_write, admin")
	cmd.Flags().String("ttl", "", "Time to live, e.g. 30m, 24h, 0m (default: no expiry)")
	cmd.Flags().String("meta", "", "JSON metadata")

	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("key")

	RootCmd.AddCommand(cmd)
}

func runWrite(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	key, _ := cmd.Flags().GetString("key")
	dataType, _ := cmd.Flags().GetString("type")
	accessStr, _ := cmd.Flags().GetString("access")
	ttlStr, _ := cmd.Flags().GetString("ttl")
	meta, _ := cmd.Flags().GetString("meta")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("write", fmt.Errorf("value is required (positional arg or stdin)"))
	}

	level, err := model.ParseAccessLevel(accessStr)
	if err != nil {
		exitErr("write", err)
	}
	req := pool.WriteRequest{
		SessionID:   session,
		AgentID:     agentID(),
		Key:         key,
		Value:       parseValue(content),
		DataType:    model.DataType(dataType),
		AccessLevel: level,
	}
	if ttlStr != "" {
		ttl, err := parseTTL(ttlStr)
		if err != nil {
			exitErr("parse ttl", err)
		}
		req.TTL = &ttl
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &req.Metadata); err != nil {
			exitErr("parse meta", err)
		}
	}

	cfg := loadConfig()
	p, s, _ := openPool(cmd.Context(), cfg)
	defer s.Close()

	res, err := p.Write(cmd.Context(), req)
	if err != nil {
		exitErr("write", err)
	}
	printJSON(res)
}
