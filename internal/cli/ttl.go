package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/consensus-memory/internal/model"
)

var ttlRegex = regexp.MustCompile(`^(\d+)([dhms])$`)

// parseTTL accepts durations like 7d, 24h, 30m or 60s. "0m" is valid and
// makes an entry expire immediately.
func parseTTL(s string) (time.Duration, error) {
	m := ttlRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid format %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}

// parseValue reads a value as JSON, falling back to a plain string for
// text that is not valid JSON.
func parseValue(s string) model.Value {
	s = strings.TrimSpace(s)
	if v, err := model.ParseJSON([]byte(s)); err == nil {
		return v
	}
	return model.String(s)
}
