package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/consensus-memory/internal/audit"
	"github.com/rcliao/consensus-memory/internal/checksum"
	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/resolve"
	"github.com/rcliao/consensus-memory/internal/store"
)

// WriteRequest holds the parameters for Write.
type WriteRequest struct {
	SessionID   string
	AgentID     string
	Key         string
	Value       model.Value
	DataType    model.DataType    // defaults to the value's own type
	AccessLevel model.AccessLevel // defaults to read_write
	TTL         *time.Duration    // nil means no expiry; zero expires immediately
	Metadata    map[string]any
}

// WriteOutcome tells a caller what became of a write.
type WriteOutcome string

const (
	// OutcomeApplied means the entry is now the Active version of its key.
	OutcomeApplied WriteOutcome = "applied"
	// OutcomeConflictPending means the entry was recorded but diverged from
	// existing data; it becomes authoritative only through a merge.
	// Retrying the same write does not help.
	OutcomeConflictPending WriteOutcome = "conflict_pending"
	// OutcomePermissionDenied means nothing was written.
	OutcomePermissionDenied WriteOutcome = "permission_denied"
)

// WriteResult is returned by Write.
type WriteResult struct {
	EntryID    string       `json:"entry_id,omitempty"`
	Outcome    WriteOutcome `json:"outcome"`
	Version    int          `json:"version,omitempty"`
	ConflictID string       `json:"conflict_id,omitempty"`
}

// Write stores a new version of a key. A write whose value diverges from
// the key's live entries is parked as Conflicted together with them and
// reported as OutcomeConflictPending. Only storage failures and invalid
// requests are returned as errors.
func (p *Pool) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	began := time.Now()
	defer func() { p.metrics.ObserveWrite(time.Since(began).Seconds()) }()

	rec := model.AccessLogRecord{
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
		Operation: model.OpWrite,
		Key:       req.Key,
	}

	e, err := p.newEntry(req)
	if err != nil {
		rec.Details = map[string]any{"reason": model.ReasonInvalidArgument, "error": err.Error()}
		p.record(ctx, rec)
		p.metrics.Write("error")
		return nil, err
	}

	res, conflict, err := p.commitWrite(ctx, e)
	if err != nil {
		rec.Details = map[string]any{"reason": model.ReasonStorageFailure, "error": err.Error()}
		p.record(ctx, rec)
		p.metrics.Write("error")
		return nil, err
	}
	p.metrics.Write(string(res.Outcome))

	switch res.Outcome {
	case OutcomePermissionDenied:
		rec.Details = reason(model.ReasonPermissionDenied)
		p.record(ctx, rec)
		return res, nil

	case OutcomeConflictPending:
		p.notifyConflict(ctx, e.AgentID, conflict)
		rec.Operation = model.OpConflict
		rec.EntryID = e.ID
		rec.Success = true
		rec.Details = map[string]any{
			"reason":              model.ReasonConflictPending,
			"conflict_id":         conflict.ID,
			"conflicting_entries": len(conflict.EntryIDs),
			"version":             e.Version,
		}
		p.record(ctx, rec)
		p.metrics.ConflictDetected(string(conflict.Type))
		p.audit.Emit(ctx, audit.Event{
			Action: audit.ActionWrite, SessionID: e.SessionID, AgentID: e.AgentID,
			Key: e.Key, EntryID: e.ID, Count: 1,
		})
		p.audit.Emit(ctx, audit.Event{
			Action: audit.ActionConflictDetected, SessionID: e.SessionID, AgentID: e.AgentID,
			Key: e.Key, EntryID: e.ID, ConflictID: conflict.ID,
			Strategy: string(conflict.Strategy), Count: len(conflict.EntryIDs),
		})
		return res, nil
	}

	rec.EntryID = e.ID
	rec.Success = true
	rec.Details = map[string]any{"version": e.Version, "checksum": e.Checksum}
	p.record(ctx, rec)
	p.audit.Emit(ctx, audit.Event{
		Action: audit.ActionWrite, SessionID: e.SessionID, AgentID: e.AgentID,
		Key: e.Key, EntryID: e.ID, Count: 1,
	})
	return res, nil
}

// newEntry validates req and builds the entry it would insert.
func (p *Pool) newEntry(req WriteRequest) (*model.Entry, error) {
	switch {
	case req.SessionID == "":
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	case req.AgentID == "":
		return nil, fmt.Errorf("%w: agent id is required", ErrInvalidArgument)
	case req.Key == "":
		return nil, fmt.Errorf("%w: key is required", ErrInvalidArgument)
	}

	dt := req.DataType
	if dt == "" {
		dt = req.Value.Type()
	}
	if !model.ValidDataTypes[dt] {
		return nil, fmt.Errorf("%w: unknown data type %q", ErrInvalidArgument, dt)
	}
	if dt != req.Value.Type() {
		return nil, fmt.Errorf("%w: data type %s does not match %s value", ErrInvalidArgument, dt, req.Value.Type())
	}

	level := req.AccessLevel
	if level == "" {
		level = model.AccessReadWrite
	}
	if !model.ValidAccessLevels[level] {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrInvalidArgument, level)
	}
	if req.TTL != nil && *req.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl", ErrInvalidArgument)
	}

	sum, err := checksum.Fingerprint(req.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	now := p.now().UTC()
	e := &model.Entry{
		ID:          ulid.Make().String(),
		SessionID:   req.SessionID,
		Key:         req.Key,
		Value:       req.Value,
		DataType:    dt,
		Checksum:    sum,
		AgentID:     req.AgentID,
		CreatedAt:   now,
		UpdatedAt:   now,
		AccessLevel: level,
		Metadata:    req.Metadata,
	}
	if req.TTL != nil {
		exp := now.Add(*req.TTL)
		e.ExpiresAt = &exp
	}
	return e, nil
}

// commitWrite runs detection and persists the write under the session lock.
func (p *Pool) commitWrite(ctx context.Context, e *model.Entry) (*WriteResult, *model.Conflict, error) {
	s := p.lock(e.SessionID)
	defer p.unlock(e.SessionID, s)

	live, err := p.liveEntries(ctx, s, e.SessionID, e.Key)
	if err != nil {
		return nil, nil, err
	}
	current, expired := splitExpired(live, e.UpdatedAt)

	if !p.access.CanCreate(e.AgentID, e.AccessLevel) {
		return &WriteResult{Outcome: OutcomePermissionDenied}, nil, nil
	}
	for _, x := range current {
		if !p.access.Allowed(e.AgentID, x.AccessLevel, model.OpWrite, x.AgentID) {
			return &WriteResult{Outcome: OutcomePermissionDenied}, nil, nil
		}
	}

	latest, err := p.store.LatestVersion(ctx, e.SessionID, e.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: latest version: %w", ErrStorage, err)
	}
	e.Version = latest + 1

	var m store.Mutation
	for _, x := range expired {
		m.Transitions = append(m.Transitions, store.Transition{EntryID: x.ID, To: model.StatusExpired})
	}

	// Members of an open conflict may have expired or been flipped by a
	// read or cleanup, so the key's open conflicts are loaded on every
	// write and closed by whatever this write decides.
	open, err := p.openConflicts(ctx, e.SessionID, e.Key)
	if err != nil {
		return nil, nil, err
	}

	_, different := resolve.Partition(e.Checksum, current)
	var conflict *model.Conflict
	if len(different) == 0 {
		e.Status = model.StatusActive
		for _, x := range current {
			m.Transitions = append(m.Transitions, store.Transition{EntryID: x.ID, To: model.StatusMerged})
		}
		supersede(&m, open, e.ID, e.UpdatedAt)
	} else {
		e.Status = model.StatusConflicted
		conflict = &model.Conflict{
			ID:         ulid.Make().String(),
			SessionID:  e.SessionID,
			Key:        e.Key,
			Type:       model.ConflictDivergentWrite,
			DetectedAt: e.UpdatedAt,
			Strategy:   p.strategy,
		}
		for _, x := range current {
			conflict.EntryIDs = append(conflict.EntryIDs, x.ID)
			if x.Status != model.StatusConflicted {
				m.Transitions = append(m.Transitions, store.Transition{EntryID: x.ID, To: model.StatusConflicted})
			}
		}
		conflict.EntryIDs = append(conflict.EntryIDs, e.ID)
		m.Conflicts = append(m.Conflicts, conflict)
		supersede(&m, open, conflict.ID, e.UpdatedAt)
	}
	m.Inserts = append(m.Inserts, e)

	if err := p.store.Apply(ctx, m); err != nil {
		return nil, nil, fmt.Errorf("%w: apply write: %w", ErrStorage, err)
	}

	p.metrics.Expired(len(expired))
	cached := e.Clone()
	if conflict == nil {
		s.live[e.Key] = []*model.Entry{cached}
		return &WriteResult{EntryID: e.ID, Outcome: OutcomeApplied, Version: e.Version}, nil, nil
	}
	for _, x := range current {
		x.Status = model.StatusConflicted
	}
	s.live[e.Key] = append(current, cached)
	return &WriteResult{
		EntryID:    e.ID,
		Outcome:    OutcomeConflictPending,
		Version:    e.Version,
		ConflictID: conflict.ID,
	}, conflict, nil
}
