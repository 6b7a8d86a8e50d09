// Package pool implements the consensus memory pool: a per-session cache
// over the entry store, the write/read/merge paths, conflict detection
// and the maintenance operations the background workers drive.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/consensus-memory/internal/access"
	"github.com/rcliao/consensus-memory/internal/audit"
	"github.com/rcliao/consensus-memory/internal/metrics"
	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/store"
)

var (
	// ErrStorage is a hard failure of the durable store. Nothing was
	// applied when it is returned.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidArgument rejects a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Registry supplies the participants of a planning session. It is only
// used to route conflict notifications.
type Registry interface {
	Participants(ctx context.Context, sessionID string) ([]string, error)
}

// Notifier delivers best-effort messages to agents.
type Notifier interface {
	Notify(ctx context.Context, sender string, recipients []string, content string, metadata map[string]any) error
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithRegistry sets the session registry used for notifications.
func WithRegistry(r Registry) Option {
	return func(p *Pool) { p.registry = r }
}

// WithNotifier sets the messaging collaborator.
func WithNotifier(n Notifier) Option {
	return func(p *Pool) { p.notifier = n }
}

// WithMetrics records pool activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithSink forwards audit events to a tracing sink.
func WithSink(s audit.Sink) Option {
	return func(p *Pool) { p.sink = s }
}

// WithAdmins sets the privileged identities.
func WithAdmins(admins ...string) Option {
	return func(p *Pool) { p.admins = admins }
}

// WithDefaultStrategy sets the strategy stored on newly detected conflicts.
func WithDefaultStrategy(s model.Strategy) Option {
	return func(p *Pool) { p.strategy = s }
}

// Pool is a handle to the memory pool. Sessions are independent; all
// mutations within one session are serialized by that session's lock.
type Pool struct {
	store    store.Store
	access   *access.Controller
	audit    *audit.Log
	registry Registry
	notifier Notifier
	sink     audit.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	strategy model.Strategy
	admins   []string

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the cache for one session. live holds the Active and
// Conflicted entries of each key and is only touched with mu held.
// refs counts holders and waiters and is guarded by Pool.mu.
type session struct {
	mu     sync.Mutex
	refs   int
	loaded bool
	live   map[string][]*model.Entry
}

// New returns a pool backed by st.
func New(st store.Store, opts ...Option) *Pool {
	p := &Pool{
		store:    st,
		logger:   slog.Default(),
		now:      time.Now,
		strategy: model.StrategyLastWriteWins,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(p)
	}
	p.access = access.NewController(p.admins)
	auditOpts := []audit.Option{audit.WithLogger(p.logger), audit.WithClock(p.now)}
	if p.sink != nil {
		auditOpts = append(auditOpts, audit.WithSink(p.sink))
	}
	p.audit = audit.New(st, auditOpts...)
	return p
}

// Store returns the backing store.
func (p *Pool) Store() store.Store {
	return p.store
}

// lock returns the session's cache with its lock held, creating it on
// first use. Every lock must be paired with unlock.
func (p *Pool) lock(id string) *session {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if !ok {
		s = &session{live: make(map[string][]*model.Entry)}
		p.sessions[id] = s
	}
	s.refs++
	p.mu.Unlock()

	s.mu.Lock()
	return s
}

// unlock releases s and forgets it once nobody holds it and it caches
// nothing. s.mu is taken before p.mu here; lock never waits on s.mu
// while holding p.mu.
func (p *Pool) unlock(id string, s *session) {
	p.mu.Lock()
	s.refs--
	if s.refs == 0 && len(s.live) == 0 && p.sessions[id] == s {
		delete(p.sessions, id)
	}
	p.mu.Unlock()
	s.mu.Unlock()
}

// cachedSessions returns the ids of every session with a cache.
func (p *Pool) cachedSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// liveEntries returns the live entries for key, loading the session on
// first access and falling back to the store on a cache miss. The
// returned slice is a copy; the entries are cache-owned. Callers hold
// s.mu.
func (p *Pool) liveEntries(ctx context.Context, s *session, sessionID, key string) ([]*model.Entry, error) {
	if !s.loaded {
		all, err := p.store.ListLive(ctx, sessionID, "")
		if err != nil {
			return nil, fmt.Errorf("%w: load session: %w", ErrStorage, err)
		}
		s.live = groupByKey(all)
		s.loaded = true
	}
	if entries := s.live[key]; len(entries) > 0 {
		return append([]*model.Entry(nil), entries...), nil
	}
	entries, err := p.store.ListLive(ctx, sessionID, key)
	if err != nil {
		return nil, fmt.Errorf("%w: list live: %w", ErrStorage, err)
	}
	if len(entries) > 0 {
		s.live[key] = entries
	}
	return append([]*model.Entry(nil), entries...), nil
}

func groupByKey(entries []*model.Entry) map[string][]*model.Entry {
	m := make(map[string][]*model.Entry)
	for _, e := range entries {
		m[e.Key] = append(m[e.Key], e)
	}
	return m
}

// splitExpired separates entries whose expiry has passed at now.
func splitExpired(entries []*model.Entry, now time.Time) (current, expired []*model.Entry) {
	for _, e := range entries {
		if e.Expired(now) {
			expired = append(expired, e)
		} else {
			current = append(current, e)
		}
	}
	return current, expired
}

// openConflicts returns unresolved conflicts on a key, oldest first.
func (p *Pool) openConflicts(ctx context.Context, sessionID, key string) ([]*model.Conflict, error) {
	cs, err := p.store.ListConflicts(ctx, store.ConflictFilter{SessionID: sessionID, Key: key, OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: list conflicts: %w", ErrStorage, err)
	}
	return cs, nil
}

// supersede closes conflicts replaced by a newer decision on the same key.
func supersede(m *store.Mutation, open []*model.Conflict, by string, at time.Time) {
	for _, c := range open {
		m.Resolutions = append(m.Resolutions, store.Resolution{
			ConflictID: c.ID,
			Result:     "superseded_by:" + by,
			ResolvedBy: access.SystemAgent,
			ResolvedAt: at,
		})
	}
}

func (p *Pool) record(ctx context.Context, rec model.AccessLogRecord) {
	// Failures are logged by the audit log; the operation already happened.
	_ = p.audit.Record(ctx, rec)
}

func reason(code string) map[string]any {
	return map[string]any{"reason": code}
}

// notifyConflict tells the other session participants that a key is
// waiting on resolution. Failures never reach the caller.
func (p *Pool) notifyConflict(ctx context.Context, sender string, c *model.Conflict) {
	if p.notifier == nil || p.registry == nil {
		return
	}
	participants, err := p.registry.Participants(ctx, c.SessionID)
	if err != nil {
		p.logger.Warn("list session participants failed", "session_id", c.SessionID, "error", err)
		return
	}
	var recipients []string
	for _, a := range participants {
		if a != sender {
			recipients = append(recipients, a)
		}
	}
	if len(recipients) == 0 {
		return
	}
	content := fmt.Sprintf("conflict on key %q: %d divergent entries pending resolution", c.Key, len(c.EntryIDs))
	meta := map[string]any{
		"conflict_id":   c.ID,
		"session_id":    c.SessionID,
		"key":           c.Key,
		"conflict_type": string(c.Type),
		"entries":       len(c.EntryIDs),
	}
	if err := p.notifier.Notify(ctx, sender, recipients, content, meta); err != nil {
		p.logger.Warn("conflict notification failed",
			"session_id", c.SessionID, "conflict_id", c.ID, "recipients", len(recipients), "error", err)
	}
}
