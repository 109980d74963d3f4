package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/renderscan/internal/aggregate"
	"github.com/roach88/renderscan/internal/clock"
	"github.com/roach88/renderscan/internal/engine"
	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/monitor"
	"github.com/roach88/renderscan/internal/outline"
	"github.com/roach88/renderscan/internal/scan"
	"github.com/roach88/renderscan/internal/testutil"
	"github.com/roach88/renderscan/internal/transport"
)

// SinkURL is the collector endpoint used when a scenario names none.
// Requests to it never leave the process.
const SinkURL = "http://sink.renderscan.invalid/ingest"

// DefaultSessionID is the session id of scenarios that do not fix one.
const DefaultSessionID = "test-session-default"

// Session is the session descriptor reported by replayed scenarios.
var Session = monitor.Session{
	Device:  monitor.DeviceDesktop,
	Agent:   "renderscan-harness",
	CPU:     1,
	Version: ir.Version,
}

// Harness replays one scenario against a fresh instance.
type Harness struct {
	scenario *Scenario
	inst     *scan.Instance
	clock    *testutil.ManualClock
	tree     *builder
	sink     *Sink
	client   *transport.Client
	logger   *slog.Logger
	observe  func(TraceEvent)
	base     aggregate.OptionsPatch
	result   *Result
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the instance. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithTransport delivers batches through c instead of the in-process sink.
// The scenario's monitor url must then name a reachable collector.
func WithTransport(c *transport.Client) Option {
	return func(h *Harness) {
		h.client = c
	}
}

// WithOptions sets the options the instance starts with. The scenario's
// own options are merged over them.
func WithOptions(p aggregate.OptionsPatch) Option {
	return func(h *Harness) {
		h.base = p
	}
}

// WithObserver calls fn with every trace event as it is produced.
func WithObserver(fn func(TraceEvent)) Option {
	return func(h *Harness) {
		h.observe = fn
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh instance with a manual clock stopped at
// testutil.Epoch and a fixed session id, so the same scenario always
// produces the same trace and byte-identical batches.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := New(scenario, opts...)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	ctx := context.Background()
	for i := range scenario.Steps {
		if err := h.Step(ctx, i); err != nil {
			return nil, err
		}
	}
	return h.Finish(), nil
}

// New prepares a harness for scenario without running any step.
func New(scenario *Scenario, opts ...Option) (*Harness, error) {
	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewManualClock(),
		tree:     newBuilder(newValueDecoder(scenario.Refs)),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.sink = &Sink{}
		c, err := transport.NewClient(
			transport.WithHTTPClient(&http.Client{Transport: h.sink}),
			transport.WithLogger(h.logger),
		)
		if err != nil {
			return nil, err
		}
		h.client = c
	}

	sessionID := DefaultSessionID
	abort := false
	if m := scenario.Monitor; m != nil {
		if m.SessionID != "" {
			sessionID = m.SessionID
		}
		abort = m.AbortWhenDrained
	}
	inst, err := scan.New(
		scan.WithOptions(h.base),
		scan.WithClock(h.clock),
		scan.WithLogger(h.logger),
		scan.WithTransport(h.client),
		scan.WithMonitorOptions(
			monitor.WithIDGenerator(testutil.NewFixedIDGenerator(sessionID)),
			monitor.WithSessionInfo(Session),
			monitor.WithAbortWhenDrained(abort),
		),
	)
	if err != nil {
		return nil, err
	}
	h.inst = inst

	if err := h.setup(); err != nil {
		inst.Close()
		return nil, err
	}
	return h, nil
}

func (h *Harness) setup() error {
	s := h.scenario
	if s.Options != nil {
		if _, err := h.inst.SetOptions(*s.Options); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	for _, a := range s.Allow {
		var opts []aggregate.AllowOptions
		if a.IncludeChildren != nil {
			opts = append(opts, aggregate.AllowOptions{IncludeChildren: *a.IncludeChildren})
		}
		h.inst.Allow(h.tree.Type(a.Component), opts...)
	}
	if m := s.Monitor; m != nil {
		url := m.URL
		if url == "" {
			url = SinkURL
		}
		patch := aggregate.OptionsPatch{Monitor: &aggregate.MonitorPatch{
			URL: &url, APIKey: &m.APIKey, Route: &m.Route, Path: &m.Path,
		}}
		if _, err := h.inst.SetOptions(patch); err != nil {
			return fmt.Errorf("monitor options: %w", err)
		}
		if _, err := h.inst.StartMonitor(); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
	}
	return nil
}

// Instance returns the instance under replay.
func (h *Harness) Instance() *scan.Instance {
	return h.inst
}

// Sink returns the in-process collector, nil with WithTransport.
func (h *Harness) Sink() *Sink {
	return h.sink
}

// Len returns the number of steps.
func (h *Harness) Len() int {
	return len(h.scenario.Steps)
}

// Step executes step i and appends its trace event.
func (h *Harness) Step(ctx context.Context, i int) error {
	step := h.scenario.Steps[i]
	ev := TraceEvent{Step: i, Op: step.Op()}

	switch ev.Op {
	case OpCommit:
		if err := h.commit(step.Commit, &ev); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	case OpAdvance:
		now := h.clock.Advance(time.Duration(step.Advance) * time.Millisecond)
		ev.Now = now.Sub(testutil.Epoch).Milliseconds()
	case OpInteraction:
		it := step.Interaction
		started := h.inst.StartInteraction(monitor.Entry{
			ID:            it.ID,
			Type:          it.Type,
			ComponentName: it.Name,
			ComponentPath: it.Path,
			Duration:      clock.FromMillis(it.Duration),
		})
		if started != nil {
			route, _ := h.inst.Monitor().Route()
			ev.Interaction = started.WireID(route)
		}
	case OpFlush:
		b, err := h.inst.Flush(ctx)
		if err != nil {
			return fmt.Errorf("steps[%d]: flush: %w", i, err)
		}
		h.inst.Wait()
		if b != nil {
			ev.Batch = b.Body
		}
	case OpOutlines:
		h.inst.DrainOutlines(func(ps []outline.Pending) {
			for _, p := range ps {
				ev.Outlines = append(ev.Outlines, h.outline(p))
			}
		})
	case OpOptions:
		if _, err := h.inst.SetOptions(*step.Options); err != nil {
			return fmt.Errorf("steps[%d]: options: %w", i, err)
		}
	case OpRoute:
		if err := h.inst.SetRoute(step.Route.Route, step.Route.Path); err != nil {
			return fmt.Errorf("steps[%d]: route: %w", i, err)
		}
	}

	h.result.Trace = append(h.result.Trace, ev)
	if h.observe != nil {
		h.observe(ev)
	}
	return nil
}

func (h *Harness) commit(step *CommitStep, ev *TraceEvent) error {
	root, unmounted, err := h.tree.commit(step.Tree)
	if err != nil {
		return err
	}
	ev.Unmounted = unmounted

	res, err := h.inst.Commit(root)
	ev.Commit = res.Commit
	if err != nil {
		var we *engine.WalkError
		if !errors.As(err, &we) {
			return err
		}
		ev.Error = we.Error()
		return nil
	}
	if res.Commit == 0 {
		// recording disabled
		return nil
	}
	ev.Mode = res.Mode.String()
	for _, em := range res.Emissions {
		id := h.tree.ID(em.Node)
		for _, r := range em.Records {
			ev.Records = append(ev.Records, RecordTrace{
				Node:      id,
				Kind:      r.Kind,
				Component: r.ComponentName,
				Changes:   r.Changes,
				SelfTime:  r.SelfTime,
				Trigger:   r.Trigger,
				Forget:    r.Forget,
			})
		}
	}
	return nil
}

func (h *Harness) outline(p outline.Pending) OutlineTrace {
	ot := OutlineTrace{
		Node:     h.tree.ID(p.Node),
		Kind:     p.Record.Kind,
		Count:    p.Count,
		Severity: p.Severity,
		Animate:  p.Animate,
	}
	if p.Target != nil {
		ot.Target = h.tree.ID(p.Target)
	}
	return ot
}

// Finish evaluates the assertions and collects the final aggregates.
func (h *Harness) Finish() *Result {
	r := h.result
	r.Stats = h.stats()
	for _, name := range h.inst.ReportNames() {
		ls, _ := h.inst.ReportByName(name)
		r.Report = append(r.Report, ReportTrace{
			Name:          name,
			RenderCount:   ls.RenderCount,
			TotalSelfTime: ls.TotalSelfTime,
		})
	}
	for _, msg := range EvaluateAssertions(r, h.scenario.Assertions, h) {
		r.AddError(msg)
	}
	return r
}

func (h *Harness) stats() []StatTrace {
	out := []StatTrace{}
	for _, id := range h.tree.IDs() {
		st, ok := h.inst.Stat(h.tree.Node(id))
		if !ok {
			continue
		}
		out = append(out, StatTrace{
			Node:          id,
			Name:          st.DisplayName,
			RenderCount:   st.RenderCount,
			TotalSelfTime: st.TotalSelfTime,
		})
	}
	return out
}

// Close stops the instance and waits for deliveries.
func (h *Harness) Close() {
	h.inst.Close()
}

// Sink is an in-process collector. It answers every request with 202 and
// keeps the request bodies.
//
// Thread-safety: Sink is safe for concurrent use.
type Sink struct {
	mu       sync.Mutex
	requests int
	bodies   [][]byte
}

// RoundTrip implements http.RoundTripper.
func (s *Sink) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests++
	s.bodies = append(s.bodies, body)
	s.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusAccepted,
		Status:     "202 Accepted",
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

// Requests returns the number of requests received.
func (s *Sink) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Bodies returns the raw request bodies, compressed ones included.
func (s *Sink) Bodies() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bodies)
}
