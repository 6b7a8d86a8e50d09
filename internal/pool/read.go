package pool

import (
	"context"
	"fmt"

	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/store"
)

// ReadStatus tells a caller why a read did or did not return a value.
type ReadStatus string

const (
	ReadOK               ReadStatus = "ok"
	ReadNotFound         ReadStatus = "not_found"
	ReadExpired          ReadStatus = "expired"
	ReadPermissionDenied ReadStatus = "permission_denied"
	// ReadConflictPending means the key has data but every live entry is
	// waiting on a merge.
	ReadConflictPending ReadStatus = "conflict_pending"
)

// ReadResult is returned by Read. Value is set only for ReadOK; Entry
// names the entry that was consulted, when there was one.
type ReadResult struct {
	Status ReadStatus   `json:"status"`
	Value  *model.Value `json:"value,omitempty"`
	Entry  *model.Entry `json:"entry,omitempty"`
}

// Found reports whether the read produced a value.
func (r *ReadResult) Found() bool {
	return r.Status == ReadOK
}

// Read returns the Active value of key. Absent values are reported
// through the result status; only storage failures are errors.
func (p *Pool) Read(ctx context.Context, sessionID, agentID, key string) (*ReadResult, error) {
	rec := model.AccessLogRecord{
		SessionID: sessionID,
		AgentID:   agentID,
		Operation: model.OpRead,
		Key:       key,
	}

	res, err := p.read(ctx, sessionID, agentID, key)
	if err != nil {
		rec.Details = map[string]any{"reason": model.ReasonStorageFailure, "error": err.Error()}
		p.record(ctx, rec)
		p.metrics.Read("error")
		return nil, err
	}
	p.metrics.Read(string(res.Status))

	if res.Entry != nil {
		rec.EntryID = res.Entry.ID
	}
	switch res.Status {
	case ReadOK:
		rec.Success = true
		rec.Details = map[string]any{"version": res.Entry.Version}
	case ReadNotFound:
		rec.Details = reason(model.ReasonNotFound)
	case ReadExpired:
		rec.Details = reason(model.ReasonExpired)
	case ReadPermissionDenied:
		rec.Details = reason(model.ReasonPermissionDenied)
		res.Entry = nil
	case ReadConflictPending:
		rec.Details = reason(model.ReasonConflictPending)
	}
	p.record(ctx, rec)
	return res, nil
}

func (p *Pool) read(ctx context.Context, sessionID, agentID, key string) (*ReadResult, error) {
	if sessionID == "" || key == "" {
		return &ReadResult{Status: ReadNotFound}, nil
	}

	s := p.lock(sessionID)
	defer p.unlock(sessionID, s)

	live, err := p.liveEntries(ctx, s, sessionID, key)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return &ReadResult{Status: ReadNotFound}, nil
	}

	current, expired := splitExpired(live, p.now())
	var expiredActive *model.Entry
	if len(expired) > 0 {
		var m store.Mutation
		for _, e := range expired {
			m.Transitions = append(m.Transitions, store.Transition{EntryID: e.ID, To: model.StatusExpired})
			if e.Status == model.StatusActive {
				expiredActive = e
			}
		}
		if err := p.store.Apply(ctx, m); err != nil {
			return nil, fmt.Errorf("%w: expire entries: %w", ErrStorage, err)
		}
		p.metrics.Expired(len(expired))
		if len(current) == 0 {
			delete(s.live, key)
		} else {
			s.live[key] = current
		}
	}

	var active *model.Entry
	for _, e := range current {
		if e.Status == model.StatusActive {
			active = e
		}
	}
	switch {
	case active != nil:
	case expiredActive != nil:
		gone := expiredActive.Clone()
		gone.Status = model.StatusExpired
		return &ReadResult{Status: ReadExpired, Entry: gone}, nil
	case len(current) > 0:
		return &ReadResult{Status: ReadConflictPending}, nil
	default:
		return &ReadResult{Status: ReadExpired}, nil
	}

	if !p.access.Allowed(agentID, active.AccessLevel, model.OpRead, active.AgentID) {
		return &ReadResult{Status: ReadPermissionDenied, Entry: active.Clone()}, nil
	}
	v := active.Value
	return &ReadResult{Status: ReadOK, Value: &v, Entry: active.Clone()}, nil
}
