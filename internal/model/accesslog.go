package model

import "time"

// Operation is the kind of access recorded in the audit log.
type Operation string

const (
	OpRead     Operation = "read"
	OpWrite    Operation = "write"
	OpMerge    Operation = "merge"
	OpConflict Operation = "conflict"
)

// Reason codes carried in AccessLogRecord.Details["reason"].
const (
	ReasonNotFound         = "not_found"
	ReasonExpired          = "expired"
	ReasonPermissionDenied = "permission_denied"
	ReasonConflictPending  = "conflict_pending"
	ReasonNoOpenConflict   = "no_open_conflict"
	ReasonAlreadyResolved  = "already_resolved"
	ReasonResolutionFailed = "resolution_failed"
	ReasonStorageFailure   = "storage_failure"
	ReasonInvalidArgument  = "invalid_argument"
)

// AccessLogRecord is an immutable audit line.
type AccessLogRecord struct {
	ID        string         `json:"log_id"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id"`
	Operation Operation      `json:"operation"`
	Key       string         `json:"key"`
	EntryID   string         `json:"entry_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
}
