package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/consensus-memory/internal/access"
	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/resolve"
	"github.com/rcliao/consensus-memory/internal/store"
)

// ResolveResult counts the outcome of one auto-resolution pass.
type ResolveResult struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// ResolveOpen resolves every open conflict in every session with the
// conflict's default strategy, acting as access.SystemAgent. Conflicts
// that fail stay open for the next pass.
func (p *Pool) ResolveOpen(ctx context.Context) (ResolveResult, error) {
	var res ResolveResult
	sessions, err := p.store.SessionsWithOpenConflicts(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: list sessions: %w", ErrStorage, err)
	}

	var errs []error
	for _, sessionID := range sessions {
		open, err := p.store.ListConflicts(ctx, store.ConflictFilter{SessionID: sessionID, OpenOnly: true})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: list conflicts: %w", ErrStorage, err))
			continue
		}
		for _, c := range open {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			ok, err := p.ResolveConflict(ctx, c.ID, access.SystemAgent, "")
			switch {
			case err != nil:
				res.Failed++
				// Resolution failures are expected to persist until an agent
				// merges with another strategy; only storage errors escalate.
				if !errors.Is(err, resolve.ErrResolution) && !errors.Is(err, resolve.ErrUnknownStrategy) {
					errs = append(errs, fmt.Errorf("conflict %s: %w", c.ID, err))
				}
			case ok:
				res.Resolved++
			}
		}
	}
	return res, errors.Join(errs...)
}

// ExpireCached flips every cached live entry whose expiry has passed to
// Expired and evicts it. Rows are never deleted. It returns the number
// of entries expired.
func (p *Pool) ExpireCached(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, id := range p.cachedSessions() {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := p.expireSession(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

func (p *Pool) expireSession(ctx context.Context, sessionID string) (int, error) {
	s := p.lock(sessionID)
	defer p.unlock(sessionID, s)

	now := p.now()
	var m store.Mutation
	keep := make(map[string][]*model.Entry, len(s.live))
	for key, entries := range s.live {
		current, expired := splitExpired(entries, now)
		for _, e := range expired {
			m.Transitions = append(m.Transitions, store.Transition{EntryID: e.ID, To: model.StatusExpired})
		}
		if len(current) > 0 {
			keep[key] = current
		}
	}
	if m.Empty() {
		return 0, nil
	}
	if err := p.store.Apply(ctx, m); err != nil {
		return 0, fmt.Errorf("%w: expire entries: %w", ErrStorage, err)
	}
	s.live = keep
	p.metrics.Expired(len(m.Transitions))
	return len(m.Transitions), nil
}

// Archive flips Expired entries older than age to Archived, at most
// batch per call.
func (p *Pool) Archive(ctx context.Context, age time.Duration, batch int) (int, error) {
	n, err := p.store.ArchiveExpired(ctx, p.now().Add(-age), batch)
	if err != nil {
		return 0, fmt.Errorf("%w: archive: %w", ErrStorage, err)
	}
	p.metrics.Archived(n)
	return n, nil
}
