package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/consensus-memory/internal/model"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const entryColumns = `id, session_id, key, value, data_type, checksum, agent_id,
	created_at, updated_at, version, access_level, expires_at, status, metadata`

const conflictColumns = `id, session_id, key, entry_ids, conflict_type, detected_at,
	strategy, resolved, result, resolved_by, resolved_at`

const logColumns = `id, session_id, agent_id, operation, key, entry_id, logged_at, success, details`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		key          TEXT NOT NULL,
		value        TEXT NOT NULL,
		data_type    TEXT NOT NULL,
		checksum     TEXT NOT NULL,
		agent_id     TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		version      INTEGER NOT NULL,
		access_level TEXT NOT NULL,
		expires_at   TEXT,
		status       TEXT NOT NULL,
		metadata     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_session_key_status ON entries(session_id, key, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_active ON entries(session_id, key) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_entries_status_expires ON entries(status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS conflicts (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		key           TEXT NOT NULL,
		entry_ids     TEXT NOT NULL,
		conflict_type TEXT NOT NULL,
		detected_at   TEXT NOT NULL,
		strategy      TEXT NOT NULL,
		resolved      INTEGER NOT NULL DEFAULT 0,
		result        TEXT,
		resolved_by   TEXT,
		resolved_at   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_session_resolved ON conflicts(session_id, resolved)`,
	`CREATE TABLE IF NOT EXISTS access_logs (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent_id   TEXT NOT NULL,
		operation  TEXT NOT NULL,
		key        TEXT NOT NULL,
		entry_id   TEXT,
		logged_at  TEXT NOT NULL,
		success    INTEGER NOT NULL,
		details    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_session_time ON access_logs(session_id, logged_at)`,
}

// Open opens a store for the given driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown store driver %q (valid: sqlite, postgres)", driver)
}

// sqlStore implements Store over database/sql. SQLite and Postgres
// share the schema and queries; Postgres needs $n placeholders.
type sqlStore struct {
	db     *sql.DB
	driver string
	path   string
	dollar bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q rewrites ? placeholders for the active dialect.
func (s *sqlStore) q(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Put(ctx context.Context, e *model.Entry) error {
	return s.Apply(ctx, Mutation{Inserts: []*model.Entry{e}})
}

func (s *sqlStore) Get(ctx context.Context, entryID string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+entryColumns+` FROM entries WHERE id = ?`), entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	return e, err
}

func (s *sqlStore) GetActive(ctx context.Context, sessionID, key string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+entryColumns+` FROM entries
		WHERE session_id = ? AND key = ? AND status = ?`), sessionID, key, string(model.StatusActive))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active entry %s/%s: %w", sessionID, key, ErrNotFound)
	}
	return e, err
}

func (s *sqlStore) ListLive(ctx context.Context, sessionID, key string) ([]*model.Entry, error) {
	where := []string{"session_id = ?", "status IN (?, ?)"}
	args := []any{sessionID, string(model.StatusActive), string(model.StatusConflicted)}
	if key != "" {
		where = append(where, "key = ?")
		args = append(args, key)
	}
	query := `SELECT ` + entryColumns + ` FROM entries WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY updated_at, version, id`
	return s.queryEntries(ctx, s.db, query, args...)
}

func (s *sqlStore) History(ctx context.Context, sessionID, key string) ([]*model.Entry, error) {
	return s.queryEntries(ctx, s.db, `SELECT `+entryColumns+` FROM entries
		WHERE session_id = ? AND key = ? ORDER BY version DESC, updated_at DESC, id DESC`, sessionID, key)
}

func (s *sqlStore) LatestVersion(ctx context.Context, sessionID, key string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(version), 0) FROM entries
		WHERE session_id = ? AND key = ?`), sessionID, key).Scan(&v)
	return v, err
}

func (s *sqlStore) Apply(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var promotions []Transition
	for _, t := range m.Transitions {
		if t.To == model.StatusActive {
			promotions = append(promotions, t)
			continue
		}
		if err := s.transition(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, e := range m.Inserts {
		if err := s.insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, t := range promotions {
		if err := s.transition(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, c := range m.Conflicts {
		if err := s.insertConflict(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, r := range m.Resolutions {
		if err := s.resolve(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqlStore) insertEntry(ctx context.Context, tx querier, e *model.Entry) error {
	var exists int
	err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM entries WHERE id = ?`), e.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check entry: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("entry %s: %w", e.ID, ErrDuplicateEntry)
	}

	value, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.SessionID, e.Key, string(value), string(e.DataType), e.Checksum, e.AgentID,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), e.Version, string(e.AccessLevel),
		formatTimePtr(e.ExpiresAt), string(e.Status), meta)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *sqlStore) transition(ctx context.Context, tx querier, t Transition) error {
	var current string
	err := tx.QueryRowContext(ctx, s.q(`SELECT status FROM entries WHERE id = ?`), t.EntryID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entry %s: %w", t.EntryID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	if !model.Status(current).CanTransition(t.To) {
		return fmt.Errorf("entry %s %s -> %s: %w", t.EntryID, current, t.To, ErrInvalidTransition)
	}

	if t.Metadata == nil {
		_, err = tx.ExecContext(ctx, s.q(`UPDATE entries SET status = ? WHERE id = ?`), string(t.To), t.EntryID)
	} else {
		var meta *string
		meta, err = encodeJSON(t.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`UPDATE entries SET status = ?, metadata = ? WHERE id = ?`),
			string(t.To), meta, t.EntryID)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (s *sqlStore) insertConflict(ctx context.Context, tx querier, c *model.Conflict) error {
	ids, err := json.Marshal(c.EntryIDs)
	if err != nil {
		return fmt.Errorf("encode entry ids: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO conflicts (`+conflictColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.SessionID, c.Key, string(ids), string(c.Type), formatTime(c.DetectedAt),
		string(c.Strategy), boolInt(c.Resolved), nullString(c.Result), nullString(c.ResolvedBy),
		formatTimePtr(c.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

func (s *sqlStore) resolve(ctx context.Context, tx querier, r Resolution) error {
	res, err := tx.ExecContext(ctx, s.q(`UPDATE conflicts
		SET resolved = 1, result = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0`),
		r.Result, r.ResolvedBy, formatTime(r.ResolvedAt), r.ConflictID)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM conflicts WHERE id = ?`), r.ConflictID).Scan(&exists); err != nil {
		return fmt.Errorf("check conflict: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("conflict %s: %w", r.ConflictID, ErrNotFound)
	}
	return fmt.Errorf("conflict %s: %w", r.ConflictID, ErrAlreadyResolved)
}

func (s *sqlStore) GetConflict(ctx context.Context, conflictID string) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`), conflictID)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict %s: %w", conflictID, ErrNotFound)
	}
	return c, err
}

func (s *sqlStore) ListConflicts(ctx context.Context, f ConflictFilter) ([]*model.Conflict, error) {
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Key != "" {
		where = append(where, "key = ?")
		args = append(args, f.Key)
	}
	if f.OpenOnly {
		where = append(where, "resolved = 0")
	}

	query := `SELECT ` + conflictColumns + ` FROM conflicts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY detected_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *sqlStore) SessionsWithOpenConflicts(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT session_id FROM conflicts WHERE resolved = 0 ORDER BY session_id`)
}

func (s *sqlStore) Sessions(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT session_id FROM entries ORDER BY session_id`)
}

func (s *sqlStore) Agents(ctx context.Context, sessionID string) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT agent_id FROM entries WHERE session_id = ? ORDER BY agent_id`, sessionID)
}

func (s *sqlStore) AppendLog(ctx context.Context, rec *model.AccessLogRecord) error {
	return s.insertLog(ctx, s.db, rec)
}

func (s *sqlStore) insertLog(ctx context.Context, db querier, rec *model.AccessLogRecord) error {
	details, err := encodeJSON(rec.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	_, err = db.ExecContext(ctx, s.q(`INSERT INTO access_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.SessionID, rec.AgentID, string(rec.Operation), rec.Key, nullString(rec.EntryID),
		formatTime(rec.Timestamp), boolInt(rec.Success), details)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

func (s *sqlStore) ListLogs(ctx context.Context, f LogFilter) ([]*model.AccessLogRecord, error) {
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Key != "" {
		where = append(where, "key = ?")
		args = append(args, f.Key)
	}
	if !f.Since.IsZero() {
		where = append(where, "logged_at >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := `SELECT ` + logColumns + ` FROM access_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY logged_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.AccessLogRecord
	for rows.Next() {
		rec, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, rec)
	}
	return logs, rows.Err()
}

func (s *sqlStore) ArchiveExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	ids, err := s.queryStrings(ctx, `SELECT id FROM entries
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at LIMIT ?`, string(model.StatusExpired), formatTime(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	m := Mutation{}
	for _, id := range ids {
		m.Transitions = append(m.Transitions, Transition{EntryID: id, To: model.StatusArchived})
	}
	if err := s.Apply(ctx, m); err != nil {
		return 0, fmt.Errorf("archive expired: %w", err)
	}
	return len(ids), nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) queryEntries(ctx context.Context, db querier, query string, args ...any) ([]*model.Entry, error) {
	rows, err := db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqlStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*model.Entry, error) {
	var e model.Entry
	var value, dataType, createdAt, updatedAt, level, status string
	var expiresAt, meta sql.NullString

	err := row.Scan(
		&e.ID, &e.SessionID, &e.Key, &value, &dataType, &e.Checksum, &e.AgentID,
		&createdAt, &updatedAt, &e.Version, &level, &expiresAt, &status, &meta,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
		return nil, fmt.Errorf("decode value of %s: %w", e.ID, err)
	}
	e.DataType = model.DataType(dataType)
	e.AccessLevel = model.AccessLevel(level)
	e.Status = model.Status(status)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	if expiresAt.Valid {
		t := parseTime(expiresAt.String)
		e.ExpiresAt = &t
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func scanConflict(row scanner) (*model.Conflict, error) {
	var c model.Conflict
	var ids, ctype, detectedAt, strategy string
	var resolved int
	var result, resolvedBy, resolvedAt sql.NullString

	err := row.Scan(&c.ID, &c.SessionID, &c.Key, &ids, &ctype, &detectedAt,
		&strategy, &resolved, &result, &resolvedBy, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ids), &c.EntryIDs); err != nil {
		return nil, fmt.Errorf("decode entry ids of %s: %w", c.ID, err)
	}
	c.Type = model.ConflictType(ctype)
	c.Strategy = model.Strategy(strategy)
	c.DetectedAt = parseTime(detectedAt)
	c.Resolved = resolved != 0
	c.Result = result.String
	c.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		c.ResolvedAt = &t
	}
	return &c, nil
}

func scanLog(row scanner) (*model.AccessLogRecord, error) {
	var rec model.AccessLogRecord
	var op, loggedAt string
	var success int
	var entryID, details sql.NullString

	err := row.Scan(&rec.ID, &rec.SessionID, &rec.AgentID, &op, &rec.Key, &entryID,
		&loggedAt, &success, &details)
	if err != nil {
		return nil, err
	}

	rec.Operation = model.Operation(op)
	rec.EntryID = entryID.String
	rec.Timestamp = parseTime(loggedAt)
	rec.Success = success != 0
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
			return nil, fmt.Errorf("decode details of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func encodeJSON(m map[string]any) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
