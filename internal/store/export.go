package store

import (
	"context"
	"fmt"

	"github.com/rcliao/consensus-memory/internal/model"
)

// Export is the full record of one session, suitable for replay.
type Export struct {
	SessionID string                   `json:"session_id"`
	Entries   []*model.Entry           `json:"entries"`
	Conflicts []*model.Conflict        `json:"conflicts"`
	Logs      []*model.AccessLogRecord `json:"logs"`
}

// Export returns every entry (all statuses and versions), conflict and
// access log record of a session.
func (s *sqlStore) Export(ctx context.Context, sessionID string) (*Export, error) {
	entries, err := s.queryEntries(ctx, s.db, `SELECT `+entryColumns+` FROM entries
		WHERE session_id = ? ORDER BY key, version, id`, sessionID)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.ListConflicts(ctx, ConflictFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	logs, err := s.ListLogs(ctx, LogFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return &Export{SessionID: sessionID, Entries: entries, Conflicts: conflicts, Logs: logs}, nil
}

// Import loads an export in one transaction. Ids and states are kept
// as they are; an id that already exists aborts the whole import.
func (s *sqlStore) Import(ctx context.Context, x *Export) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range x.Entries {
		if err := s.insertEntry(ctx, tx, e); err != nil {
			return 0, err
		}
	}
	for _, c := range x.Conflicts {
		if err := s.insertConflict(ctx, tx, c); err != nil {
			return 0, err
		}
	}
	for _, l := range x.Logs {
		if err := s.insertLog(ctx, tx, l); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(x.Entries), nil
}
