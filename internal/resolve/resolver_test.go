package resolve

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/consensus-memory/internal/checksum"
	"github.com/rcliao/consensus-memory/internal/model"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id, doc string, offset time.Duration, version int) *model.Entry {
	v := model.MustParseJSON(doc)
	return &model.Entry{
		ID:        id,
		Key:       "plan",
		Value:     v,
		Checksum:  checksum.MustFingerprint(v),
		UpdatedAt: base.Add(offset),
		Version:   version,
		Status:    model.StatusConflicted,
	}
}

func TestPartition(t *testing.T) {
	a := entry("a", `{"x":1}`, 0, 1)
	b := entry("b", `{"x":2}`, time.Second, 2)
	c := entry("c", `{"x":1}`, 2*time.Second, 3)

	same, different := Partition(a.Checksum, []*model.Entry{a, b, c})
	assert.Equal(t, []*model.Entry{a, c}, same)
	assert.Equal(t, []*model.Entry{b}, different)

	same, different = Partition(a.Checksum, nil)
	assert.Empty(t, same)
	assert.Empty(t, different)
}

func TestDiverged(t *testing.T) {
	a := entry("a", `1`, 0, 1)
	b := entry("b", `1`, 0, 2)
	c := entry("c", `2`, 0, 3)
	assert.False(t, Diverged(nil))
	assert.False(t, Diverged([]*model.Entry{a}))
	assert.False(t, Diverged([]*model.Entry{a, b}))
	assert.True(t, Diverged([]*model.Entry{a, b, c}))
}

func TestLastWriteWins(t *testing.T) {
	x := entry("x", `{"steps":["x"]}`, 0, 1)
	y := entry("y", `{"steps":["y"]}`, time.Second, 2)

	out, err := Resolve(model.StrategyLastWriteWins, []*model.Entry{y, x})
	require.NoError(t, err)
	assert.Equal(t, "y", out.WinnerID)
	assert.Equal(t, []string{"x"}, out.Demoted)
	assert.Nil(t, out.Value)
}

func TestLastWriteWinsTieBreaksOnVersion(t *testing.T) {
	x := entry("x", `"a"`, 0, 2)
	y := entry("y", `"b"`, 0, 1)

	out, err := Resolve(model.StrategyLastWriteWins, []*model.Entry{x, y})
	require.NoError(t, err)
	assert.Equal(t, "x", out.WinnerID)
}

func TestStructuralMergeConcatenatesSequences(t *testing.T) {
	x := entry("x", `{"steps":["x"]}`, 0, 1)
	y := entry("y", `{"steps":["y"]}`, time.Second, 2)

	out, err := Resolve(model.StrategyStructural, []*model.Entry{y, x})
	require.NoError(t, err)
	require.NotNil(t, out.Value)
	assert.JSONEq(t, `{"steps":["x","y"]}`, out.Value.String())
	assert.Equal(t, []string{"x", "y"}, out.Sources)
	assert.ElementsMatch(t, []string{"x", "y"}, out.Demoted)
	assert.False(t, out.Lossy)
}

func TestStructuralMergeMapsLaterKeyWins(t *testing.T) {
	a := entry("a", `{"owner":"ann","budget":100,"tags":["a"],"meta":{"p":1}}`, 0, 1)
	b := entry("b", `{"budget":200,"tags":["b"],"meta":{"q":2},"extra":true}`, time.Second, 2)

	out, err := Resolve(model.StrategyStructural, []*model.Entry{a, b})
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"ann","budget":200,"tags":["a","b"],"meta":{"p":1,"q":2},"extra":true}`, out.Value.String())
	assert.True(t, out.Lossy)
	assert.Equal(t, []string{"$.budget"}, out.LossyPaths)
}

func TestStructuralMergeTopLevelSequences(t *testing.T) {
	a := entry("a", `[1,2]`, 0, 1)
	b := entry("b", `[3]`, time.Second, 2)
	c := entry("c", `[4]`, 2*time.Second, 3)

	out, err := Resolve(model.StrategyStructural, []*model.Entry{c, a, b})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3,4]`, out.Value.String())
}

func TestStructuralMergeScalarsIsLossy(t *testing.T) {
	a := entry("a", `"first"`, 0, 1)
	b := entry("b", `42`, time.Second, 2)

	out, err := Resolve(model.StrategyStructural, []*model.Entry{a, b})
	require.NoError(t, err)
	assert.Equal(t, "b", out.WinnerID)
	assert.True(t, out.Lossy)
	assert.Contains(t, out.Summary(), "winner b")
}

func TestStructuralMergeIncompatibleTypes(t *testing.T) {
	a := entry("a", `{"k":1}`, 0, 1)
	b := entry("b", `["k"]`, time.Second, 2)

	_, err := Resolve(model.StrategyStructural, []*model.Entry{a, b})
	assert.True(t, errors.Is(err, ErrResolution))
}

func TestConsensusMajority(t *testing.T) {
	a := entry("a", `{"v":1}`, 0, 1)
	b := entry("b", `{"v":2}`, time.Second, 2)
	c := entry("c", `{"v":1}`, 2*time.Second, 3)

	out, err := Resolve(model.StrategyConsensus, []*model.Entry{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, "c", out.WinnerID)
	assert.ElementsMatch(t, []string{"a", "b"}, out.Demoted)
}

func TestConsensusTieGoesToMostRecent(t *testing.T) {
	a := entry("a", `{"v":1}`, 0, 1)
	b := entry("b", `{"v":2}`, 3*time.Second, 2)

	out, err := Resolve(model.StrategyConsensus, []*model.Entry{a, b})
	require.NoError(t, err)
	assert.Equal(t, "b", out.WinnerID)
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve(model.StrategyLastWriteWins, nil)
	assert.ErrorIs(t, err, ErrResolution)

	_, err = Resolve(model.Strategy("coin_flip"), []*model.Entry{entry("a", `1`, 0, 1)})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestOutcomeSummary(t *testing.T) {
	v := model.String("x")
	o := &Outcome{Strategy: model.StrategyStructural, Value: &v, Sources: []string{"a", "b"}, Lossy: true}
	assert.Equal(t, "structural_merge: merged 2 entries (lossy)", o.Summary())
}
