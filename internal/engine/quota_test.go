package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/renderscan/internal/testutil"
)

func TestNodeQuota(t *testing.T) {
	q := newNodeQuota(2)
	require.NoError(t, q.Check(1))
	require.NoError(t, q.Check(1))

	err := q.Check(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 nodes > 2 limit")

	unlimited := newNodeQuota(0)
	for range 1000 {
		require.NoError(t, unlimited.Check(1))
	}
}

func TestWalkMaxNodesBoundary(t *testing.T) {
	// The fixture walk visits exactly 7 nodes.
	_, err := NewWalker(WithMaxNodes(7)).Walk(newFixture().root)
	require.NoError(t, err)

	res, err := NewWalker(WithMaxNodes(6)).Walk(newFixture().root)
	require.Error(t, err)
	assert.True(t, IsNodeBudget(err))
	assert.False(t, IsWalkPanic(err))
	assert.Empty(t, res.Emissions, "staged records are discarded")
}

func TestWalkSiblingLoopHitsBudget(t *testing.T) {
	row := testutil.Type("Row")
	a := testutil.Component(row, nil)
	b := testutil.Component(row, nil)
	list := testutil.Link(testutil.Component(testutil.Type("List"), nil), a, b)
	b.Sibling = a

	w := NewWalker(WithMaxNodes(100))
	_, err := w.Walk(testutil.MountedRoot(list))
	require.Error(t, err)
	assert.True(t, IsNodeBudget(err))

	var we *WalkError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "Row", we.Node)
	assert.Contains(t, we.Message, "exceeded max nodes quota")
}
