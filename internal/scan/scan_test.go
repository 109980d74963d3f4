package scan

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/renderscan/internal/aggregate"
	"github.com/roach88/renderscan/internal/engine"
	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/monitor"
	"github.com/roach88/renderscan/internal/outline"
	"github.com/roach88/renderscan/internal/testutil"
	"github.com/roach88/renderscan/internal/transport"
	"github.com/roach88/renderscan/internal/tree"
)

// page is a mounted single-component tree that can be re-rendered.
type page struct {
	root *tree.Root
	node *tree.Node
	typ  *tree.ComponentType
}

func mountPage(name string) *page {
	p := &page{typ: testutil.Type(name)}
	p.node = testutil.Component(p.typ, ir.NewObject(ir.O("n", ir.Number(0))))
	p.root = testutil.MountedRoot(p.node)
	return p
}

// rerender commits a new version of the component with props n=v.
func (p *page) rerender(v float64) *tree.Root {
	next := testutil.Flip(p.root.Current)
	n := testutil.Rendered(testutil.Flip(p.node))
	n.Props = ir.NewObject(ir.O("n", ir.Number(v)))
	testutil.Link(next, n)
	p.root = &tree.Root{Current: next}
	p.node = n
	return p.root
}

func ptr[T any](v T) *T { return &v }

func newInstance(t *testing.T, opts ...Option) (*Instance, *testutil.ManualClock) {
	t.Helper()
	clk := testutil.NewManualClock()
	inst, err := New(append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(inst.Close)
	return inst, clk
}

func TestCommitAggregatesAcrossBuffers(t *testing.T) {
	inst, _ := newInstance(t)
	p := mountPage("Counter")

	_, err := inst.Commit(p.root)
	require.NoError(t, err)
	for v := 1; v <= 3; v++ {
		res, err := inst.Commit(p.rerender(float64(v)))
		require.NoError(t, err)
		require.Len(t, res.Emissions, 1)
	}

	stats := inst.Stats()
	require.Len(t, stats, 1, "both buffers are one instance")
	assert.Equal(t, 4, stats[0].RenderCount)
	assert.Equal(t, "Counter", stats[0].DisplayName)

	st, ok := inst.Stat(p.node)
	require.True(t, ok)
	assert.Equal(t, stats[0], st)
}

func TestDisabledIgnoresCommits(t *testing.T) {
	inst, _ := newInstance(t)
	p := mountPage("Counter")
	_, err := inst.Commit(p.root)
	require.NoError(t, err)

	_, err = inst.SetOptions(aggregate.OptionsPatch{Enabled: ptr(false)})
	require.NoError(t, err)
	_, err = inst.Commit(p.rerender(1))
	require.NoError(t, err)

	st, ok := inst.Stat(p.node)
	require.True(t, ok, "disabling keeps aggregated data")
	assert.Equal(t, 1, st.RenderCount)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(WithOptions(aggregate.OptionsPatch{MaxRenders: ptr(-1)}))
	assert.ErrorIs(t, err, aggregate.ErrInvalidOption)
}

func TestSetOptionsThenOptions(t *testing.T) {
	inst, _ := newInstance(t)

	merged, err := inst.SetOptions(aggregate.OptionsPatch{RenderCountThreshold: ptr(3)})
	require.NoError(t, err)

	got := inst.Options()
	assert.Equal(t, merged, got)
	assert.Equal(t, 3, got.RenderCountThreshold)
	assert.Equal(t, aggregate.DefaultOptions().MaxRenders, got.MaxRenders)
}

func TestCallbacksRunInOrder(t *testing.T) {
	var mu sync.Mutex
	var events []string
	log := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	inst, _ := newInstance(t, WithOptions(aggregate.OptionsPatch{Callbacks: &aggregate.Callbacks{
		OnCommitStart:  func() { log("start") },
		OnRender:       func(n *tree.Node, _ []ir.RenderRecord) { log("render " + n.Name()) },
		OnCommitFinish: func() { log("finish") },
	}}))
	p := mountPage("Counter")

	inst.OnRender(p.typ, func(n *tree.Node, _ []ir.RenderRecord) { log("sub1") })
	cancel := inst.OnRender(p.typ, func(n *tree.Node, _ []ir.RenderRecord) { log("sub2") })
	inst.OnRender(testutil.Type("Other"), func(*tree.Node, []ir.RenderRecord) { log("other") })

	_, err := inst.Commit(p.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "render Counter", "sub1", "sub2", "finish"}, events)

	events = nil
	cancel()
	_, err = inst.Commit(p.rerender(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "render Counter", "sub1", "finish"}, events)
}

func TestCallbacksMayReenter(t *testing.T) {
	var inst *Instance
	var seen aggregate.Stat
	inst, _ = newInstance(t, WithOptions(aggregate.OptionsPatch{Callbacks: &aggregate.Callbacks{
		OnRender: func(n *tree.Node, _ []ir.RenderRecord) {
			seen, _ = inst.Stat(n)
		},
	}}))
	p := mountPage("Counter")

	_, err := inst.Commit(p.root)
	require.NoError(t, err)
	assert.Equal(t, 1, seen.RenderCount, "hooks run after the state is updated")
}

func TestHookPanicIsContained(t *testing.T) {
	inst, _ := newInstance(t, WithOptions(aggregate.OptionsPatch{Callbacks: &aggregate.Callbacks{
		OnCommitStart: func() { panic("host bug") },
	}}))
	p := mountPage("Counter")

	_, err := inst.Commit(p.root)
	require.NoError(t, err)
	assert.Len(t, inst.Stats(), 1)
}

func TestWalkFailureDiscardsCommit(t *testing.T) {
	fail := true
	inst, _ := newInstance(t, WithFilter(func(n *tree.Node) bool {
		if fail && n.Name() == "Counter" {
			panic("filter bug")
		}
		return tree.ShouldFilter(n)
	}))
	p := mountPage("Counter")

	_, err := inst.Commit(p.root)
	var we *engine.WalkError
	require.ErrorAs(t, err, &we)
	assert.True(t, engine.IsWalkPanic(err))
	assert.Empty(t, inst.Stats())
	assert.Zero(t, inst.Outlines().Len())

	fail = false
	_, err = inst.Commit(p.rerender(1))
	require.NoError(t, err, "later commits are unaffected")
	assert.Len(t, inst.Stats(), 1)
}

func TestAllowListRestrictsRecording(t *testing.T) {
	inst, _ := newInstance(t)
	p := mountPage("Counter")
	inst.Allow(testutil.Type("Elsewhere"))

	_, err := inst.Commit(p.root)
	require.NoError(t, err)
	assert.Empty(t, inst.Stats())

	inst.Allow(p.typ)
	_, err = inst.Commit(p.rerender(1))
	require.NoError(t, err)
	assert.Len(t, inst.Stats(), 1)

	inst.Disallow(p.typ)
	_, err = inst.Commit(p.rerender(2))
	require.NoError(t, err)
	st, _ := inst.Stat(p.node)
	assert.Equal(t, 1, st.RenderCount)
}

func TestDrainOutlines(t *testing.T) {
	var started, finished []outline.Pending
	inst, _ := newInstance(t, WithOptions(aggregate.OptionsPatch{
		RenderCountThreshold: ptr(2),
		MaxRenders:           ptr(4),
		Callbacks: &aggregate.Callbacks{
			OnPaintStart:  func(ps []outline.Pending) { started = ps },
			OnPaintFinish: func(ps []outline.Pending) { finished = ps },
		},
	}))
	p := mountPage("Counter")

	_, err := inst.Commit(p.root)
	require.NoError(t, err)
	assert.Zero(t, inst.DrainOutlines(nil), "below threshold")
	assert.Nil(t, started, "no paint without outlines")

	_, err = inst.Commit(p.rerender(1))
	require.NoError(t, err)

	var painted []outline.Pending
	n := inst.DrainOutlines(func(ps []outline.Pending) { painted = ps })
	require.Equal(t, 1, n)
	require.Len(t, painted, 1)
	assert.Equal(t, painted, started)
	assert.Equal(t, painted, finished)
	assert.Equal(t, 2, painted[0].Count)
	assert.Equal(t, 0.5, painted[0].Severity)
	assert.Same(t, p.node, painted[0].Node)
}

func TestReportByType(t *testing.T) {
	inst, _ := newInstance(t, WithOptions(aggregate.OptionsPatch{Report: ptr(true)}))
	p := mountPage("Counter")

	_, err := inst.Commit(p.root)
	require.NoError(t, err)
	_, err = inst.Commit(p.rerender(1))
	require.NoError(t, err)

	ls, ok := inst.Report(p.typ)
	require.True(t, ok)
	assert.Equal(t, 2, ls.RenderCount)
	assert.Equal(t, []string{"Counter"}, inst.ReportNames())
}

func TestIndependentInstances(t *testing.T) {
	a, _ := newInstance(t)
	b, _ := newInstance(t)
	p := mountPage("Counter")

	_, err := a.Commit(p.root)
	require.NoError(t, err)

	assert.Len(t, a.Stats(), 1)
	assert.Empty(t, b.Stats())
}

// sink is a collector endpoint recording every body and API key it
// receives, answering each with status.
type sink struct {
	mu     sync.Mutex
	bodies [][]byte
	keys   []string
	srv    *httptest.Server
}

func newSink(t *testing.T) *sink {
	return newSinkWithStatus(t, http.StatusAccepted)
}

func newSinkWithStatus(t *testing.T, status int) *sink {
	s := &sink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.keys = append(s.keys, r.Header.Get(transport.HeaderAPIKey))
		s.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sink) apiKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func monitored(t *testing.T, s *sink, opts ...Option) (*Instance, *testutil.ManualClock) {
	t.Helper()
	base := []Option{
		WithOptions(aggregate.OptionsPatch{Monitor: &aggregate.MonitorPatch{
			URL:    ptr(s.srv.URL),
			APIKey: ptr("key-1"),
			Route:  ptr("/counter"),
		}}),
		WithMonitorOptions(monitor.WithIDGenerator(testutil.NewFixedIDGenerator("session-1"))),
	}
	return newInstance(t, append(base, opts...)...)
}

func TestStartMonitorRequiresAPIKey(t *testing.T) {
	inst, _ := newInstance(t)
	_, err := inst.StartMonitor()
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
	assert.Nil(t, inst.Monitor())
}

func TestStartMonitorReusesSession(t *testing.T) {
	s := newSink(t)
	inst, _ := monitored(t, s)

	m1, err := inst.StartMonitor()
	require.NoError(t, err)
	require.NoError(t, inst.SetRoute("/next", "/next/1"))
	m2, err := inst.StartMonitor()
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	route, path := m2.Route()
	assert.Equal(t, "/next", route)
	assert.Equal(t, "/next/1", path)
}

func TestFlushDeliversAttributedRenders(t *testing.T) {
	s := newSink(t)
	inst, clk := monitored(t, s)
	m, err := inst.StartMonitor()
	require.NoError(t, err)
	p := mountPage("Counter")

	require.NotNil(t, inst.StartInteraction(monitor.Entry{Type: "pointer", ComponentName: "Counter"}))
	_, err = inst.Commit(p.root)
	require.NoError(t, err)

	b, err := inst.Flush(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b, "interaction still recent")

	clk.Advance(monitor.DefaultWindow)
	b, err = inst.Flush(context.Background())
	require.NoError(t, err)
	require.NotNil(t, b)
	inst.Wait()

	require.Equal(t, 1, s.count())
	assert.Equal(t, 0, m.Inflight().Current(), "pending decremented on success")
	assert.Empty(t, m.Interactions())
	assert.Contains(t, string(s.bodies[0]), `"name":"Counter"`)
	assert.Contains(t, string(s.bodies[0]), `"id":"session-1"`)
}

func TestFlushRemovesInteractionsWhenDeliveryFails(t *testing.T) {
	s := newSinkWithStatus(t, http.StatusServiceUnavailable)
	inst, clk := monitored(t, s)
	m, err := inst.StartMonitor()
	require.NoError(t, err)

	require.NotNil(t, inst.StartInteraction(monitor.Entry{Type: "pointer", ComponentName: "Counter"}))
	_, err = inst.Commit(mountPage("Counter").root)
	require.NoError(t, err)

	clk.Advance(monitor.DefaultWindow)
	b, err := inst.Flush(context.Background())
	require.NoError(t, err)
	require.NotNil(t, b)
	inst.Wait()

	assert.Empty(t, m.Interactions(), "removal does not wait for the collector")
	assert.Equal(t, 2, s.count(), "one post and one retry")
	assert.Equal(t, 0, m.Inflight().Current(), "pending decremented on failure")

	b, err = inst.Flush(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b, "nothing left to resend")
	assert.Equal(t, 2, s.count())
}

func TestStartMonitorAppliesChangedAPIKey(t *testing.T) {
	s := newSink(t)
	inst, clk := monitored(t, s)
	m, err := inst.StartMonitor()
	require.NoError(t, err)

	_, err = inst.SetOptions(aggregate.OptionsPatch{Monitor: &aggregate.MonitorPatch{APIKey: ptr("key-2")}})
	require.NoError(t, err)
	assert.Equal(t, "key-2", m.APIKey())

	_, err = inst.SetOptions(aggregate.OptionsPatch{Monitor: &aggregate.MonitorPatch{APIKey: ptr("")}})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, "key-2", inst.Options().Monitor.APIKey, "rejected patch is not merged")

	again, err := inst.StartMonitor()
	require.NoError(t, err)
	assert.Same(t, m, again)

	inst.StartInteraction(monitor.Entry{Type: "pointer"})
	clk.Advance(monitor.DefaultWindow)
	_, err = inst.Flush(context.Background())
	require.NoError(t, err)
	inst.Wait()
	assert.Equal(t, []string{"key-2"}, s.apiKeys())
}

func TestFlushWithoutMonitor(t *testing.T) {
	inst, _ := newInstance(t)
	b, err := inst.Flush(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Nil(t, inst.StartInteraction(monitor.Entry{Type: "pointer"}))
}

func TestSchedulerFlushes(t *testing.T) {
	s := newSink(t)
	inst, clk := monitored(t, s, WithFlushInterval(5*time.Millisecond))
	_, err := inst.StartMonitor()
	require.NoError(t, err)

	inst.StartInteraction(monitor.Entry{Type: "pointer"})
	clk.Advance(monitor.DefaultWindow)

	require.NoError(t, inst.Start(context.Background()))
	assert.ErrorIs(t, inst.Start(context.Background()), ErrRunning)

	assert.Eventually(t, func() bool { return s.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	inst.Stop()
	inst.Stop()
}
