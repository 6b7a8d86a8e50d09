package model

import (
	"fmt"
	"time"
)

// Strategy is a conflict resolution policy.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyStructural    Strategy = "structural_merge"
	StrategyConsensus     Strategy = "consensus"
)

// ValidStrategies are the allowed resolution strategies.
var ValidStrategies = map[Strategy]bool{
	StrategyLastWriteWins: true,
	StrategyStructural:    true,
	StrategyConsensus:     true,
}

// ParseStrategy validates s. An empty string yields the empty strategy,
// which callers treat as "use the conflict's default".
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return "", nil
	}
	st := Strategy(s)
	if !ValidStrategies[st] {
		return "", fmt.Errorf("invalid strategy %q (valid: last_write_wins, structural_merge, consensus)", s)
	}
	return st, nil
}

// ConflictType records how a divergence was found.
type ConflictType string

const (
	// ConflictDivergentWrite is detected synchronously on the write path.
	ConflictDivergentWrite ConflictType = "divergent_write"
	// ConflictSweep is detected by the background sweep.
	ConflictSweep ConflictType = "sweep"
)

// Conflict is a detected divergence between two or more entries for one key.
type Conflict struct {
	ID         string       `json:"conflict_id"`
	SessionID  string       `json:"session_id"`
	Key        string       `json:"key"`
	EntryIDs   []string     `json:"conflicting_entries"`
	Type       ConflictType `json:"conflict_type"`
	DetectedAt time.Time    `json:"detected_at"`
	Strategy   Strategy     `json:"resolution_strategy"`
	Resolved   bool         `json:"resolved"`
	Result     string       `json:"resolution_result,omitempty"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// Has reports whether entryID is a member of the conflict.
func (c *Conflict) Has(entryID string) bool {
	for _, id := range c.EntryIDs {
		if id == entryID {
			return true
		}
	}
	return false
}

// ConflictSummary is the caller-facing view of an open conflict.
type ConflictSummary struct {
	ID         string       `json:"conflict_id"`
	Key        string       `json:"key"`
	Type       ConflictType `json:"conflict_type"`
	Entries    int          `json:"entries"`
	Agents     []string     `json:"agents,omitempty"`
	Strategy   Strategy     `json:"resolution_strategy"`
	DetectedAt time.Time    `json:"detected_at"`
}
