package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/consensus-memory/internal/checksum"
	"github.com/rcliao/consensus-memory/internal/model"
	"github.com/rcliao/consensus-memory/internal/store"
)

type failing struct{}

func (failing) Participants(context.Context, string) ([]string, error) {
	return nil, errors.New("registry offline")
}

func TestStaticReturnsCopy(t *testing.T) {
	s := Static{"s1": {"a", "b"}}
	got, err := s.Participants(context.Background(), "s1")
	require.NoError(t, err)
	got[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, s["s1"])

	got, err = s.Participants(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWritersFromStore(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "reg.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, agent := range []string{"zed", "amy", "zed"} {
		v := model.Number(float64(i))
		status := model.StatusMerged
		if i == 2 {
			status = model.StatusActive
		}
		require.NoError(t, st.Put(ctx, &model.Entry{
			ID: "e" + string(rune('0'+i)), SessionID: "s1", Key: "k", Value: v,
			DataType: model.TypeNumber, Checksum: checksum.MustFingerprint(v), AgentID: agent,
			CreatedAt: now, UpdatedAt: now, Version: i + 1,
			AccessLevel: model.AccessReadWrite, Status: status,
		}))
	}

	got, err := Writers{Store: st}.Participants(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, got)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	c := Chain{Static{"s1": {"a"}}, Static{"s1": {"b"}, "s2": {"c"}}}

	got, err := c.Participants(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)

	got, err = c.Participants(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)

	got, err = c.Participants(ctx, "s3")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Chain{Static{}, failing{}}.Participants(ctx, "s1")
	assert.Error(t, err)
}
