package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	Driver         string         `json:"driver"`
	DBPath         string         `json:"db_path,omitempty"`
	DBSizeBytes    int64          `json:"db_size_bytes,omitempty"`
	TotalEntries   int            `json:"total_entries"`
	ByStatus       map[string]int `json:"by_status"`
	TotalConflicts int            `json:"total_conflicts"`
	OpenConflicts  int            `json:"open_conflicts"`
	TotalLogs      int            `json:"total_logs"`
	Sessions       []SessionStats `json:"sessions"`
}

// SessionStats holds per-session counts.
type SessionStats struct {
	SessionID     string `json:"session_id"`
	Entries       int    `json:"entries"`
	Keys          int    `json:"keys"`
	Active        int    `json:"active"`
	OpenConflicts int    `json:"open_conflicts"`
}

// Stats returns database statistics.
func (s *sqlStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Driver: s.driver, DBPath: s.path, ByStatus: map[string]int{}}

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.TotalEntries); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts`).Scan(&st.TotalConflicts); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts WHERE resolved = 0`).Scan(&st.OpenConflicts); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_logs`).Scan(&st.TotalLogs); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM entries GROUP BY status`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByStatus[status] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, s.q(`
		SELECT e.session_id, COUNT(*) AS cnt, COUNT(DISTINCT e.key) AS key_count,
		       SUM(CASE WHEN e.status = ? THEN 1 ELSE 0 END) AS active_count,
		       (SELECT COUNT(*) FROM conflicts c WHERE c.session_id = e.session_id AND c.resolved = 0) AS open_count
		FROM entries e
		GROUP BY e.session_id ORDER BY cnt DESC, e.session_id`), "active")
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss SessionStats
		if err := rows.Scan(&ss.SessionID, &ss.Entries, &ss.Keys, &ss.Active, &ss.OpenConflicts); err != nil {
			return st, err
		}
		st.Sessions = append(st.Sessions, ss)
	}
	return st, rows.Err()
}
