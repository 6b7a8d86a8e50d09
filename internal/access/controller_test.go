package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/consensus-memory/internal/model"
)

func TestAllowed(t *testing.T) {
	c := NewController([]string{"root"})

	tests := []struct {
		name  string
		agent string
		level model.AccessLevel
		op    model.Operation
		owner string
		want  bool
	}{
		{"rw read", "a", model.AccessReadWrite, model.OpRead, "b", true},
		{"rw write", "a", model.AccessReadWrite, model.OpWrite, "b", true},
		{"rw merge", "a", model.AccessReadWrite, model.OpMerge, "b", true},
		{"ro read", "a", model.AccessReadOnly, model.OpRead, "b", true},
		{"ro write by other", "a", model.AccessReadOnly, model.OpWrite, "b", false},
		{"ro write by owner", "b", model.AccessReadOnly, model.OpWrite, "b", false},
		{"ro merge by owner", "b", model.AccessReadOnly, model.OpMerge, "b", true},
		{"ro merge by other", "a", model.AccessReadOnly, model.OpMerge, "b", false},
		{"ro merge by admin", "root", model.AccessReadOnly, model.OpMerge, "b", true},
		{"admin read by other", "a", model.AccessAdmin, model.OpRead, "a", false},
		{"admin write by admin", "root", model.AccessAdmin, model.OpWrite, "b", true},
		{"admin merge by system", SystemAgent, model.AccessAdmin, model.OpMerge, "b", true},
		{"empty agent", "", model.AccessReadWrite, model.OpRead, "b", false},
		{"unknown level", "a", model.AccessLevel("secret"), model.OpRead, "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Allowed(tt.agent, tt.level, tt.op, tt.owner))
		})
	}
}

func TestCanCreate(t *testing.T) {
	c := NewController([]string{"root", ""})

	assert.True(t, c.CanCreate("a", model.AccessReadWrite))
	assert.True(t, c.CanCreate("a", model.AccessReadOnly))
	assert.False(t, c.CanCreate("a", model.AccessAdmin))
	assert.True(t, c.CanCreate("root", model.AccessAdmin))
	assert.False(t, c.CanCreate("", model.AccessReadWrite))
	assert.False(t, c.IsAdmin(""))
}
