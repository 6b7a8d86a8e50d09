package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/consensus-memory/internal/access"
	"github.com/rcliao/consensus-memory/internal/audit"
	"github.com/rcliao/consensus-memory/internal/checksum"
	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/resolve"
	"github.com/rcliao/consensus-memory/internal/store"
)

// Merge resolves the most recent open conflict on key with strategy, or
// with the conflict's own default when strategy is empty. It returns
// false when there is nothing to resolve, the conflict was already
// resolved, or the agent may not merge every member.
func (p *Pool) Merge(ctx context.Context, sessionID, agentID, key string, strategy model.Strategy) (bool, error) {
	rec := model.AccessLogRecord{
		SessionID: sessionID,
		AgentID:   agentID,
		Operation: model.OpMerge,
		Key:       key,
	}
	if strategy != "" && !model.ValidStrategies[strategy] {
		rec.Details = map[string]any{"reason": model.ReasonInvalidArgument, "strategy": string(strategy)}
		p.record(ctx, rec)
		return false, fmt.Errorf("%w: %w %q", ErrInvalidArgument, resolve.ErrUnknownStrategy, strategy)
	}

	s := p.lock(sessionID)
	open, err := p.openConflicts(ctx, sessionID, key)
	if err != nil {
		p.unlock(sessionID, s)
		rec.Details = map[string]any{"reason": model.ReasonStorageFailure, "error": err.Error()}
		p.record(ctx, rec)
		return false, err
	}
	if len(open) == 0 {
		p.unlock(sessionID, s)
		rec.Details = reason(model.ReasonNoOpenConflict)
		p.record(ctx, rec)
		return false, nil
	}
	ok, err := p.resolveLocked(ctx, s, open[len(open)-1], agentID, strategy, &rec)
	p.unlock(sessionID, s)

	p.record(ctx, rec)
	return ok, err
}

// ResolveConflict resolves one conflict by id. The merge worker calls it
// as access.SystemAgent with an empty strategy.
func (p *Pool) ResolveConflict(ctx context.Context, conflictID, agentID string, strategy model.Strategy) (bool, error) {
	c, err := p.store.GetConflict(ctx, conflictID)
	if errors.Is(err, store.ErrNotFound) {
		p.record(ctx, model.AccessLogRecord{
			AgentID:   agentID,
			Operation: model.OpMerge,
			Details:   map[string]any{"reason": model.ReasonNotFound, "conflict_id": conflictID},
		})
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get conflict: %w", ErrStorage, err)
	}

	rec := model.AccessLogRecord{
		SessionID: c.SessionID,
		AgentID:   agentID,
		Operation: model.OpMerge,
		Key:       c.Key,
	}
	s := p.lock(c.SessionID)
	ok, err := p.resolveLocked(ctx, s, c, agentID, strategy, &rec)
	p.unlock(c.SessionID, s)

	p.record(ctx, rec)
	return ok, err
}

// resolveLocked collapses c into a single Active entry and fills in the
// audit record. Callers hold s.mu. The conflict is re-read so a
// resolution that raced ahead of us turns this call into a no-op.
func (p *Pool) resolveLocked(ctx context.Context, s *session, c *model.Conflict, agentID string, strategy model.Strategy, rec *model.AccessLogRecord) (bool, error) {
	fail := func(code string, err error) (bool, error) {
		rec.Details = map[string]any{"reason": code, "conflict_id": c.ID}
		if err != nil {
			rec.Details["error"] = err.Error()
		}
		return false, err
	}

	c, err := p.store.GetConflict(ctx, c.ID)
	if err != nil {
		return fail(model.ReasonStorageFailure, fmt.Errorf("%w: get conflict: %w", ErrStorage, err))
	}
	if c.Resolved {
		return fail(model.ReasonAlreadyResolved, nil)
	}
	if strategy == "" {
		strategy = c.Strategy
	}
	if strategy == "" {
		strategy = p.strategy
	}

	now := p.now().UTC()
	var m store.Mutation
	var members []*model.Entry
	for _, id := range c.EntryIDs {
		e, err := p.store.Get(ctx, id)
		if err != nil {
			return fail(model.ReasonStorageFailure, fmt.Errorf("%w: get entry %s: %w", ErrStorage, id, err))
		}
		if !p.access.Allowed(agentID, e.AccessLevel, model.OpMerge, e.AgentID) {
			p.metrics.Resolution(string(strategy), "denied")
			return fail(model.ReasonPermissionDenied, nil)
		}
		if e.Status != model.StatusConflicted {
			continue
		}
		// Members that expired while the conflict was open drop out.
		if e.Expired(now) {
			m.Transitions = append(m.Transitions, store.Transition{EntryID: e.ID, To: model.StatusExpired})
			continue
		}
		members = append(members, e)
	}

	var outcome *resolve.Outcome
	var survivor *model.Entry

	switch len(members) {
	case 0:
		m.Resolutions = append(m.Resolutions, store.Resolution{
			ConflictID: c.ID, Result: "closed: no live entries", ResolvedBy: agentID, ResolvedAt: now,
		})
	case 1:
		outcome = &resolve.Outcome{Strategy: strategy, WinnerID: members[0].ID}
	default:
		outcome, err = resolve.Resolve(strategy, members)
		if err != nil {
			p.metrics.Resolution(string(strategy), "failed")
			p.logger.Warn("conflict resolution failed",
				"session_id", c.SessionID, "conflict_id", c.ID, "key", c.Key,
				"strategy", strategy, "error", err)
			return fail(model.ReasonResolutionFailed, err)
		}
	}

	if outcome != nil {
		if outcome.Value != nil {
			survivor, err = p.mergedEntry(ctx, c, agentID, members, outcome, now)
			if err != nil {
				return fail(model.ReasonStorageFailure, err)
			}
			for _, e := range members {
				m.Transitions = append(m.Transitions, store.Transition{EntryID: e.ID, To: model.StatusMerged})
			}
			m.Inserts = append(m.Inserts, survivor)
		} else {
			for _, id := range outcome.Demoted {
				m.Transitions = append(m.Transitions, store.Transition{EntryID: id, To: model.StatusMerged})
			}
			m.Transitions = append(m.Transitions, store.Transition{EntryID: outcome.WinnerID, To: model.StatusActive})
			for _, e := range members {
				if e.ID == outcome.WinnerID {
					survivor = e
				}
			}
		}
		m.Resolutions = append(m.Resolutions, store.Resolution{
			ConflictID: c.ID, Result: outcome.Summary(), ResolvedBy: agentID, ResolvedAt: now,
		})
	}

	if err := p.store.Apply(ctx, m); err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) {
			return fail(model.ReasonAlreadyResolved, nil)
		}
		return fail(model.ReasonStorageFailure, fmt.Errorf("%w: apply resolution: %w", ErrStorage, err))
	}
	// The key is re-read from the store on next access.
	delete(s.live, c.Key)

	rec.Success = true
	rec.Details = map[string]any{"conflict_id": c.ID, "strategy": string(strategy), "members": len(members)}
	if survivor != nil {
		rec.EntryID = survivor.ID
	}
	if outcome != nil {
		rec.Details["result"] = outcome.Summary()
		if outcome.Lossy {
			rec.Details["lossy_paths"] = outcome.LossyPaths
			p.logger.Warn("structural merge discarded values",
				"session_id", c.SessionID, "conflict_id", c.ID, "key", c.Key, "paths", outcome.LossyPaths)
		}
	}
	p.metrics.Resolution(string(strategy), "resolved")
	p.audit.Emit(ctx, audit.Event{
		Action: audit.ActionConflictResolved, SessionID: c.SessionID, AgentID: agentID,
		Key: c.Key, EntryID: rec.EntryID, ConflictID: c.ID, Strategy: string(strategy), Count: len(members),
	})
	if agentID == access.SystemAgent {
		p.logger.Info("conflict auto-resolved", "session_id", c.SessionID, "conflict_id", c.ID, "strategy", strategy)
	}
	return true, nil
}

// mergedEntry builds the fresh Active entry a structural merge produces.
func (p *Pool) mergedEntry(ctx context.Context, c *model.Conflict, agentID string, members []*model.Entry, o *resolve.Outcome, now time.Time) (*model.Entry, error) {
	sum, err := checksum.Fingerprint(*o.Value)
	if err != nil {
		return nil, fmt.Errorf("fingerprint merged value: %w", err)
	}
	latest, err := p.store.LatestVersion(ctx, c.SessionID, c.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: latest version: %w", ErrStorage, err)
	}

	version := latest
	level := members[0].AccessLevel
	var expires *time.Time
	forever := false
	for _, e := range members {
		if e.Version > version {
			version = e.Version
		}
		if restrictiveness(e.AccessLevel) > restrictiveness(level) {
			level = e.AccessLevel
		}
		switch {
		case e.ExpiresAt == nil:
			forever = true
		case expires == nil || e.ExpiresAt.After(*expires):
			t := *e.ExpiresAt
			expires = &t
		}
	}
	// The merged value lives as long as its longest-lived source.
	if forever {
		expires = nil
	}

	meta := map[string]any{
		"merged_from": o.Sources,
		"conflict_id": c.ID,
		"strategy":    string(o.Strategy),
	}
	if o.Lossy {
		meta["merge_lossy"] = true
		meta["lossy_paths"] = o.LossyPaths
	}
	return &model.Entry{
		ID:          ulid.Make().String(),
		SessionID:   c.SessionID,
		Key:         c.Key,
		Value:       *o.Value,
		DataType:    o.Value.Type(),
		Checksum:    sum,
		AgentID:     agentID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     version + 1,
		AccessLevel: level,
		ExpiresAt:   expires,
		Status:      model.StatusActive,
		Metadata:    meta,
	}, nil
}

func restrictiveness(l model.AccessLevel) int {
	switch l {
	case model.AccessAdmin:
		return 2
	case model.AccessReadOnly:
		return 1
	}
	return 0
}
