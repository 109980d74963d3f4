package aggregate

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/testutil"
	"github.com/roach88/renderscan/internal/tree"
)

func record(kind ir.RenderKind, name string) ir.RenderRecord {
	return ir.RenderRecord{Kind: kind, ComponentName: name, Count: 1}
}

// mounted returns a composite node attached to a committed root.
func mounted(name string) *tree.Node {
	n := testutil.Component(testutil.Type(name), nil)
	testutil.MountedRoot(n)
	return n
}

func TestRecordRenderAlternateSharesOneStat(t *testing.T) {
	s := NewStore()
	n := mounted("Row")
	n.ActualDuration = 2
	next := testutil.NextVersion(n)
	next.ActualDuration = 3

	require.True(t, s.RecordRender(n, []ir.RenderRecord{record(ir.KindProps, "Row")}))
	require.True(t, s.RecordRender(next, []ir.RenderRecord{record(ir.KindState, "Row")}))

	assert.Equal(t, 1, s.Len(), "a node and its alternate are one instance")

	st, ok := s.Get(next)
	require.True(t, ok)
	assert.Equal(t, 2, st.RenderCount)
	assert.Equal(t, 5.0, st.TotalSelfTime)
	assert.Len(t, st.Records, 2)
	assert.Equal(t, "Row", st.DisplayName)

	viaPrev, ok := s.Get(n)
	require.True(t, ok)
	assert.Equal(t, st, viaPrev)
}

func TestRecordRenderBuffersAlternate(t *testing.T) {
	s := NewStore()
	a := mounted("Row")
	b := testutil.NextVersion(a)

	// The host flips between the same two objects on every commit.
	s.RecordRender(a, nil)
	s.RecordRender(b, nil)
	s.RecordRender(a, nil)
	s.RecordRender(b, nil)

	assert.Equal(t, 1, s.Len())
	st, _ := s.Get(a)
	assert.Equal(t, 4, st.RenderCount)
}

func TestRecordRenderZeroSelfTimeFloor(t *testing.T) {
	s := NewStore()
	n := mounted("Fast")

	s.RecordRender(n, nil)
	s.RecordRender(n, nil)

	st, _ := s.Get(n)
	assert.InDelta(t, 0.2, st.TotalSelfTime, 1e-9)
}

func TestRecordRenderBoundsRecords(t *testing.T) {
	s := NewStore(WithRecordLimit(3))
	n := mounted("Row")

	for i := 0; i < 5; i++ {
		s.RecordRender(n, []ir.RenderRecord{{Kind: ir.KindMisc, Count: i}})
	}

	st, _ := s.Get(n)
	require.Len(t, st.Records, 3)
	assert.Equal(t, 2, st.Records[0].Count, "oldest dropped first")
	assert.Equal(t, 4, st.Records[2].Count)
}

func TestGetAbsent(t *testing.T) {
	s := NewStore()

	_, ok := s.Get(mounted("Nope"))
	assert.False(t, ok)
	_, ok = s.Get(nil)
	assert.False(t, ok)
	_, ok = s.GetByName("Nope")
	assert.False(t, ok)
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := NewStore()
	n := mounted("Row")
	s.RecordRender(n, []ir.RenderRecord{record(ir.KindMisc, "Row")})

	st, _ := s.Get(n)
	st.Records[0].ComponentName = "mutated"

	again, _ := s.Get(n)
	assert.Equal(t, "Row", again.Records[0].ComponentName)
}

func TestLegacyOnlyWhenReportEnabled(t *testing.T) {
	s := NewStore()
	typ := testutil.Type("Row")
	a := testutil.Component(typ, nil)
	b := testutil.Component(typ, nil)
	testutil.MountedRoot(a, b)
	a.ActualDuration = 1

	s.RecordRender(a, []ir.RenderRecord{record(ir.KindMisc, "Row")})
	_, ok := s.Legacy(typ)
	assert.False(t, ok, "report disabled")

	_, err := s.SetOptions(OptionsPatch{Report: ptr(true)})
	require.NoError(t, err)

	s.RecordRender(a, []ir.RenderRecord{record(ir.KindMisc, "Row")})
	s.RecordRender(b, []ir.RenderRecord{record(ir.KindProps, "Row")})

	ls, ok := s.Legacy(typ)
	require.True(t, ok)
	assert.Equal(t, 2, ls.RenderCount, "instances of one name accumulate together")
	assert.InDelta(t, 1.0+MinSelfTime, ls.TotalSelfTime, 1e-9, "zero-time render of b gets the floor")
	assert.Len(t, ls.Records, 2)
	assert.Equal(t, []string{"Row"}, s.LegacyNames())

	// The per-instance stats are independent of the legacy map.
	st, _ := s.Get(a)
	assert.Equal(t, 2, st.RenderCount)
}

func TestZeroSelfTimeFloorIsShared(t *testing.T) {
	s := NewStore()
	_, err := s.SetOptions(OptionsPatch{Report: ptr(true)})
	require.NoError(t, err)
	n := mounted("Row")

	s.RecordRender(n, []ir.RenderRecord{record(ir.KindMisc, "Row")})

	st, ok := s.Get(n)
	require.True(t, ok)
	ls, ok := s.GetByName("Row")
	require.True(t, ok)
	assert.Equal(t, MinSelfTime, st.TotalSelfTime)
	assert.Equal(t, st.TotalSelfTime, ls.TotalSelfTime, "both totals credit the same time")
}

func TestDisabledPausesWithoutDiscarding(t *testing.T) {
	s := NewStore()
	n := mounted("Row")
	s.RecordRender(n, nil)

	_, err := s.SetOptions(OptionsPatch{Enabled: ptr(false)})
	require.NoError(t, err)
	assert.False(t, s.RecordRender(n, nil))

	st, ok := s.Get(n)
	require.True(t, ok, "aggregated data survives disabling")
	assert.Equal(t, 1, st.RenderCount)

	_, err = s.SetOptions(OptionsPatch{Enabled: ptr(true)})
	require.NoError(t, err)
	assert.True(t, s.RecordRender(n, nil))
	st, _ = s.Get(n)
	assert.Equal(t, 2, st.RenderCount)
}

func TestStatsOrder(t *testing.T) {
	s := NewStore()
	a, b := mounted("A"), mounted("B")
	s.RecordRender(a, nil)
	s.RecordRender(b, nil)
	s.RecordRender(b, nil)

	stats := s.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "B", stats[0].DisplayName)
	assert.Equal(t, "A", stats[1].DisplayName)
}

func TestSweepEvictsUnmounted(t *testing.T) {
	s := NewStore()
	keep := mounted("Keep")
	gone := mounted("Gone")
	detachedAlt := mounted("Alt")
	next := testutil.NextVersion(detachedAlt)

	s.RecordRender(keep, nil)
	s.RecordRender(gone, nil)
	s.RecordRender(detachedAlt, nil)

	gone.Flags |= tree.Deletion
	next.Flags |= tree.Deletion

	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get(keep)
	assert.True(t, ok)
}

func TestCollectedNodeIsEvicted(t *testing.T) {
	s := NewStore()
	func() {
		n := mounted("Temp")
		s.RecordRender(n, []ir.RenderRecord{record(ir.KindMisc, "Temp")})
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return s.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "no stat outlives its node")
}

func TestSetOptionsMerge(t *testing.T) {
	s := NewStore()
	before := s.Options()

	got, err := s.SetOptions(OptionsPatch{
		MaxRenders:        ptr(50),
		ResetCountTimeout: ptr(1000),
		AnimationSpeed:    ptr(AnimationOff),
	})
	require.NoError(t, err)

	assert.Equal(t, got, s.Options())
	assert.Equal(t, 50, got.MaxRenders)
	assert.Equal(t, time.Second, got.ResetCountTimeout)
	assert.Equal(t, AnimationOff, got.AnimationSpeed)

	// Unspecified fields unchanged.
	assert.Equal(t, before.Enabled, got.Enabled)
	assert.Equal(t, before.IncludeChildren, got.IncludeChildren)
	assert.Equal(t, before.RenderCountThreshold, got.RenderCountThreshold)
	assert.Equal(t, before.Report, got.Report)
}

func TestSetOptionsRejectsInvalid(t *testing.T) {
	s := NewStore()

	_, err := s.SetOptions(OptionsPatch{
		MaxRenders:     ptr(5),
		AnimationSpeed: ptr(AnimationSpeed("warp")),
	})

	require.ErrorIs(t, err, ErrInvalidOption)
	assert.Equal(t, 20, s.Options().MaxRenders, "rejected patch applies nothing")
}

func ptr[T any](v T) *T { return &v }
