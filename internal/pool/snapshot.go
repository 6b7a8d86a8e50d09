package pool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/store"
)

// SnapshotItem is one key of a session snapshot.
type SnapshotItem struct {
	Value     model.Value `json:"value"`
	AgentID   string      `json:"agent_id"`
	Version   int         `json:"version"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Snapshot returns the Active, unexpired value of every key in a session.
// Keys waiting on a merge are absent.
func (p *Pool) Snapshot(ctx context.Context, sessionID string) (map[string]SnapshotItem, error) {
	live, err := p.store.ListLive(ctx, sessionID, "")
	if err != nil {
		return nil, fmt.Errorf("%w: list live: %w", ErrStorage, err)
	}
	now := p.now()
	out := make(map[string]SnapshotItem)
	for _, e := range live {
		if e.Status != model.StatusActive || e.Expired(now) {
			continue
		}
		out[e.Key] = SnapshotItem{
			Value:     e.Value,
			AgentID:   e.AgentID,
			Version:   e.Version,
			UpdatedAt: e.UpdatedAt,
		}
	}
	return out, nil
}

// OpenConflicts summarizes the unresolved conflicts of a session, oldest first.
func (p *Pool) OpenConflicts(ctx context.Context, sessionID string) ([]model.ConflictSummary, error) {
	cs, err := p.store.ListConflicts(ctx, store.ConflictFilter{SessionID: sessionID, OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: list conflicts: %w", ErrStorage, err)
	}
	out := make([]model.ConflictSummary, 0, len(cs))
	for _, c := range cs {
		agents := map[string]bool{}
		for _, id := range c.EntryIDs {
			e, err := p.store.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("%w: get entry %s: %w", ErrStorage, id, err)
			}
			agents[e.AgentID] = true
		}
		sum := model.ConflictSummary{
			ID:         c.ID,
			Key:        c.Key,
			Type:       c.Type,
			Entries:    len(c.EntryIDs),
			Strategy:   c.Strategy,
			DetectedAt: c.DetectedAt,
		}
		for a := range agents {
			sum.Agents = append(sum.Agents, a)
		}
		sort.Strings(sum.Agents)
		out = append(out, sum)
	}
	return out, nil
}
