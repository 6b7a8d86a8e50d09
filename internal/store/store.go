// Package store provides durable storage for memory entries, conflicts
// and the access log, with SQLite and Postgres implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/consensus-memory/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned when a mutation resolves a conflict
	// that is already resolved. The whole mutation is rolled back.
	ErrAlreadyResolved = errors.New("conflict already resolved")
	// ErrInvalidTransition is returned for a status change the entry
	// lifecycle does not allow, e.g. Expired back to Active.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateEntry is returned when Put is given an existing entry id.
	ErrDuplicateEntry = errors.New("entry already exists")
)

// Transition changes an entry's status and, when Metadata is non-nil,
// replaces its metadata. Payload and timestamps are never rewritten.
type Transition struct {
	EntryID  string
	To       model.Status
	Metadata map[string]any
}

// Resolution marks a conflict resolved.
type Resolution struct {
	ConflictID string
	Result     string
	ResolvedBy string
	ResolvedAt time.Time
}

// Mutation is applied in a single transaction. Demotions run first,
// then inserts, then promotions to Active, then conflict rows, so the
// at-most-one-Active index holds after every statement.
type Mutation struct {
	Inserts     []*model.Entry
	Transitions []Transition
	Conflicts   []*model.Conflict
	Resolutions []Resolution
}

// Empty reports whether m has nothing to apply.
func (m *Mutation) Empty() bool {
	return len(m.Inserts) == 0 && len(m.Transitions) == 0 &&
		len(m.Conflicts) == 0 && len(m.Resolutions) == 0
}

// ConflictFilter selects conflicts.
type ConflictFilter struct {
	SessionID string
	Key       string
	OpenOnly  bool
	Limit     int
}

// LogFilter selects access log records.
type LogFilter struct {
	SessionID string
	AgentID   string
	Key       string
	Since     time.Time
	Limit     int
}

// Store is the system of record for the memory pool.
type Store interface {
	// Put inserts a new entry. It never overwrites an existing id.
	Put(ctx context.Context, e *model.Entry) error

	// Get looks up an entry by id.
	Get(ctx context.Context, entryID string) (*model.Entry, error)

	// GetActive returns the Active entry for a key, or ErrNotFound.
	GetActive(ctx context.Context, sessionID, key string) (*model.Entry, error)

	// ListLive returns Active and Conflicted entries for a session,
	// restricted to key when key is non-empty, oldest write first.
	ListLive(ctx context.Context, sessionID, key string) ([]*model.Entry, error)

	// History returns every version of a key, newest first.
	History(ctx context.Context, sessionID, key string) ([]*model.Entry, error)

	// LatestVersion returns the highest version ever written for a key, 0 if none.
	LatestVersion(ctx context.Context, sessionID, key string) (int, error)

	// Apply commits a mutation atomically.
	Apply(ctx context.Context, m Mutation) error

	// GetConflict looks up a conflict by id.
	GetConflict(ctx context.Context, conflictID string) (*model.Conflict, error)

	// ListConflicts returns conflicts matching f, oldest first.
	ListConflicts(ctx context.Context, f ConflictFilter) ([]*model.Conflict, error)

	// SessionsWithOpenConflicts lists sessions that have unresolved conflicts.
	SessionsWithOpenConflicts(ctx context.Context) ([]string, error)

	// Sessions lists every session with at least one entry.
	Sessions(ctx context.Context) ([]string, error)

	// Agents lists the distinct writers in a session.
	Agents(ctx context.Context, sessionID string) ([]string, error)

	// AppendLog appends an access log record.
	AppendLog(ctx context.Context, rec *model.AccessLogRecord) error

	// ListLogs returns access log records matching f, oldest first.
	ListLogs(ctx context.Context, f LogFilter) ([]*model.AccessLogRecord, error)

	// ArchiveExpired flips up to limit Expired entries last updated
	// before cutoff to Archived, returning how many changed.
	ArchiveExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Export returns every entry, conflict and log record of a session.
	Export(ctx context.Context, sessionID string) (*Export, error)

	// Import loads an Export atomically and returns the number of entries.
	Import(ctx context.Context, x *Export) (int, error)

	// Close closes the store.
	Close() error
}
