package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/consensus-memory/internal/access"
	"github.com/rcliao/consensus-memory/internal/audit"
	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/store"
)

// SweepResult counts what a sweep changed.
type SweepResult struct {
	Opened   int `json:"opened"`
	Repaired int `json:"repaired"`
	Expired  int `json:"expired"`
}

// Sweep re-scans a session for divergence the write path did not catch,
// for example entries written by another process sharing the store. A key
// with several live entries not covered by one open conflict gets a new
// sweep conflict over all of them; a lone Conflicted entry outside any
// open conflict is restored to Active. The cache is rebuilt from the store.
func (p *Pool) Sweep(ctx context.Context, sessionID string) (SweepResult, error) {
	var res SweepResult

	s := p.lock(sessionID)
	live, err := p.store.ListLive(ctx, sessionID, "")
	if err != nil {
		p.unlock(sessionID, s)
		return res, fmt.Errorf("%w: list live: %w", ErrStorage, err)
	}
	open, err := p.store.ListConflicts(ctx, store.ConflictFilter{SessionID: sessionID, OpenOnly: true})
	if err != nil {
		p.unlock(sessionID, s)
		return res, fmt.Errorf("%w: list conflicts: %w", ErrStorage, err)
	}

	openByKey := map[string][]*model.Conflict{}
	for _, c := range open {
		openByKey[c.Key] = append(openByKey[c.Key], c)
	}

	now := p.now().UTC()
	var m store.Mutation
	var opened []*model.Conflict
	byKey := groupByKey(live)
	for key, entries := range byKey {
		current, expired := splitExpired(entries, now)
		for _, e := range expired {
			m.Transitions = append(m.Transitions, store.Transition{EntryID: e.ID, To: model.StatusExpired})
		}
		res.Expired += len(expired)
		if len(current) == 0 || covered(current, openByKey[key]) {
			continue
		}
		if len(current) == 1 {
			if e := current[0]; e.Status == model.StatusConflicted {
				m.Transitions = append(m.Transitions, store.Transition{EntryID: e.ID, To: model.StatusActive})
				supersede(&m, openByKey[key], e.ID, now)
				res.Repaired++
			}
			continue
		}

		c := &model.Conflict{
			ID:         ulid.Make().String(),
			SessionID:  sessionID,
			Key:        key,
			Type:       model.ConflictSweep,
			DetectedAt: now,
			Strategy:   p.strategy,
		}
		for _, e := range current {
			c.EntryIDs = append(c.EntryIDs, e.ID)
			if e.Status != model.StatusConflicted {
				m.Transitions = append(m.Transitions, store.Transition{EntryID: e.ID, To: model.StatusConflicted})
			}
		}
		m.Conflicts = append(m.Conflicts, c)
		supersede(&m, openByKey[key], c.ID, now)
		opened = append(opened, c)
	}

	if err := p.store.Apply(ctx, m); err != nil {
		p.unlock(sessionID, s)
		return SweepResult{}, fmt.Errorf("%w: apply sweep: %w", ErrStorage, err)
	}
	// Force a reload so the cache reflects what the sweep found.
	s.loaded = false
	s.live = make(map[string][]*model.Entry)
	p.unlock(sessionID, s)

	res.Opened = len(opened)
	p.metrics.Expired(res.Expired)
	for _, c := range opened {
		p.metrics.ConflictDetected(string(c.Type))
		p.record(ctx, model.AccessLogRecord{
			SessionID: sessionID,
			AgentID:   access.SystemAgent,
			Operation: model.OpConflict,
			Key:       c.Key,
			Success:   true,
			Details: map[string]any{
				"reason":              model.ReasonConflictPending,
				"conflict_id":         c.ID,
				"conflict_type":       string(c.Type),
				"conflicting_entries": len(c.EntryIDs),
			},
		})
		p.audit.Emit(ctx, audit.Event{
			Action: audit.ActionConflictDetected, SessionID: sessionID, AgentID: access.SystemAgent,
			Key: c.Key, ConflictID: c.ID, Strategy: string(c.Strategy), Count: len(c.EntryIDs),
		})
		p.notifyConflict(ctx, access.SystemAgent, c)
	}
	if res.Opened > 0 || res.Repaired > 0 {
		p.logger.Info("sweep found divergence", "session_id", sessionID, "opened", res.Opened, "repaired", res.Repaired)
	}
	return res, nil
}

// covered reports whether a single open conflict lists every entry.
func covered(entries []*model.Entry, open []*model.Conflict) bool {
	for _, c := range open {
		all := true
		for _, e := range entries {
			if !c.Has(e.ID) || e.Status != model.StatusConflicted {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// SweepAll sweeps every session in the store. A failing session does not
// stop the others.
func (p *Pool) SweepAll(ctx context.Context) (SweepResult, error) {
	var total SweepResult
	sessions, err := p.store.Sessions(ctx)
	if err != nil {
		return total, fmt.Errorf("%w: list sessions: %w", ErrStorage, err)
	}
	var errs []error
	for _, id := range sessions {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		r, err := p.Sweep(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			continue
		}
		total.Opened += r.Opened
		total.Repaired += r.Repaired
		total.Expired += r.Expired
	}
	return total, errors.Join(errs...)
}
