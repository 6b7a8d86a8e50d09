// Package model defines the core consensus memory data types.
package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a memory entry.
type Status string

const (
	StatusActive     Status = "active"
	StatusMerged     Status = "merged"
	StatusConflicted Status = "conflicted"
	StatusExpired    Status = "expired"
	StatusArchived   Status = "archived"
)

// Live reports whether entries in this status take part in conflict detection.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusConflicted
}

// CanTransition reports whether an entry may move from s to next.
// Expired only moves on to Archived, Archived is terminal, and
// Merged never becomes authoritative again.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusActive:
		return next == StatusMerged || next == StatusConflicted || next == StatusExpired
	case StatusConflicted:
		return next == StatusActive || next == StatusMerged || next == StatusExpired
	case StatusMerged:
		return next == StatusExpired || next == StatusArchived
	case StatusExpired:
		return next == StatusArchived
	}
	return false
}

// AccessLevel gates who may read or write an entry.
type AccessLevel string

const (
	AccessReadOnly  AccessLevel = "read_only"
	AccessReadWrite AccessLevel = "read_write"
	AccessAdmin     AccessLevel = "admin"
)

// ValidAccessLevels are the allowed access levels.
var ValidAccessLevels = map[AccessLevel]bool{
	AccessReadOnly:  true,
	AccessReadWrite: true,
	AccessAdmin:     true,
}

// ParseAccessLevel validates s, defaulting to read_write when empty.
func ParseAccessLevel(s string) (AccessLevel, error) {
	if s == "" {
		return AccessReadWrite, nil
	}
	l := AccessLevel(s)
	if !ValidAccessLevels[l] {
		return "", fmt.Errorf("invalid access level %q (valid: read_only, read_write, admin)", s)
	}
	return l, nil
}

// Entry is one versioned value stored under a (session, key) pair.
type Entry struct {
	ID          string         `json:"entry_id"`
	SessionID   string         `json:"session_id"`
	Key         string         `json:"key"`
	Value       Value          `json:"value"`
	DataType    DataType       `json:"data_type"`
	Checksum    string         `json:"checksum"`
	AgentID     string         `json:"agent_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int            `json:"version"`
	AccessLevel AccessLevel    `json:"access_level"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	Status      Status         `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the entry's expiry has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Clone returns a copy that shares no mutable state with e.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		c.ExpiresAt = &t
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// WriteOrder reports whether a was written before b: by updated_at,
// then version, then entry id (ULIDs sort by creation time).
func WriteOrder(a, b *Entry) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.ID < b.ID
}
