// Package access decides whether an agent may perform an operation on
// an entry with a given access level.
package access

import "github.com/rcliao/consensus-memory/internal/model"

// SystemAgent is the identity background workers act as. It is always
// privileged.
const SystemAgent = "system"

// Controller is a stateless policy check. It never blocks and has no
// side effects.
type Controller struct {
	admins map[string]bool
}

// NewController returns a controller that treats the given identities
// (plus SystemAgent) as privileged.
func NewController(admins []string) *Controller {
	c := &Controller{admins: map[string]bool{SystemAgent: true}}
	for _, a := range admins {
		if a != "" {
			c.admins[a] = true
		}
	}
	return c
}

// IsAdmin reports whether agentID is privileged.
func (c *Controller) IsAdmin(agentID string) bool {
	return c.admins[agentID]
}

// Allowed reports whether agentID may perform op on an entry with the
// given level written by ownerID.
//
//   - read_only: anyone reads; nobody writes; only the owner (or an
//     admin) merges.
//   - read_write: open to all participants.
//   - admin: privileged identities only.
func (c *Controller) Allowed(agentID string, level model.AccessLevel, op model.Operation, ownerID string) bool {
	if agentID == "" {
		return false
	}
	switch level {
	case model.AccessReadWrite:
		return true
	case model.AccessReadOnly:
		switch op {
		case model.OpRead:
			return true
		case model.OpMerge:
			return agentID == ownerID || c.IsAdmin(agentID)
		}
		return false
	case model.AccessAdmin:
		return c.IsAdmin(agentID)
	}
	return false
}

// CanCreate reports whether agentID may create a new entry at level.
func (c *Controller) CanCreate(agentID string, level model.AccessLevel) bool {
	if agentID == "" {
		return false
	}
	if level == model.AccessAdmin {
		return c.IsAdmin(agentID)
	}
	return model.ValidAccessLevels[level]
}
