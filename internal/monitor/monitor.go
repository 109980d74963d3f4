// Package monitor attributes renders to user interactions and builds the
// telemetry batches sent to a collector.
//
// A Monitor holds the interactions started in the current session. Renders
// are folded into the most recently started interaction. Flush removes the
// interactions that have aged past the recency window and encodes them,
// together with a session descriptor, as one wire payload. Delivery is the
// transport package's job: the Monitor never waits on the network.
package monitor

import (
	"errors"
	"log/slog"
	"sync"
	"time"
	"weak"

	"github.com/roach88/renderscan/internal/clock"
	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/tree"
)

const (
	// DefaultRetryBudget is the number of flush attempts a component
	// aggregate survives.
	DefaultRetryBudget = 7

	// DefaultWindow is the recency window. Interactions younger than it
	// at flush time stay in the session.
	DefaultWindow = 4000 * time.Millisecond
)

// ErrMissingAPIKey is returned when a monitor is started without an API key.
var ErrMissingAPIKey = errors.New("monitor: api key is required")

// Entry describes one user interaction as reported by the host.
type Entry struct {
	// ID is the host's interaction id. Entries sharing an ID are one
	// interaction. Empty means every entry is distinct.
	ID   string
	Type string // "pointer" or "keyboard"

	ComponentName string
	ComponentPath string

	StartTime time.Time
	Duration  time.Duration
	// Timestamp is the wall-clock time reported on the wire. Defaults to
	// StartTime.
	Timestamp time.Time
}

// Component aggregates the renders of one component name during an
// interaction.
type Component struct {
	Name      string
	Renders   int
	TotalTime float64
	// RetryBudget is decremented on every flush that touches the owning
	// interaction. The component is evicted once it is serialized at zero.
	RetryBudget int

	instances map[weak.Pointer[tree.Node]]struct{}
}

// Instances returns the number of distinct component instances that
// rendered. A node and its alternate count once.
func (c *Component) Instances() int {
	return len(c.instances)
}

func (c *Component) addInstance(n *tree.Node) {
	if _, ok := c.instances[weak.Make(n)]; ok {
		return
	}
	if n.Alternate != nil {
		if _, ok := c.instances[weak.Make(n.Alternate)]; ok {
			return
		}
	}
	c.instances[weak.Make(n)] = struct{}{}
}

// Interaction is one bucket of attributed renders.
type Interaction struct {
	Entry      Entry
	Components map[string]*Component
}

// WireID returns the interaction id used on the wire.
func (it *Interaction) WireID(route string) string {
	return it.Entry.Type + "::" + it.Entry.ComponentPath + "::" + route
}

// Monitor is a monitoring session.
//
// Thread-safety: all methods are safe for concurrent use.
type Monitor struct {
	mu sync.Mutex

	url    string
	apiKey string
	route  string
	path   string

	interactions []*Interaction
	inflight     *Inflight
	session      *Session
	sessionInfo  Session

	clock            clock.Clock
	ids              IDGenerator
	online           func() bool
	window           time.Duration
	retryBudget      int
	abortWhenDrained bool
	logger           *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the time source used to default entry start times.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithIDGenerator sets the session id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Monitor) {
		m.ids = g
	}
}

// WithOnline installs the host's connectivity check. Flush is a no-op
// while it reports false.
func WithOnline(fn func() bool) Option {
	return func(m *Monitor) {
		m.online = fn
	}
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithRetryBudget overrides DefaultRetryBudget for new components.
func WithRetryBudget(n int) Option {
	return func(m *Monitor) {
		if n >= 0 {
			m.retryBudget = n
		}
	}
}

// WithAbortWhenDrained makes Flush send nothing, and remove nothing, when
// no interaction would remain in the session afterwards.
func WithAbortWhenDrained(v bool) Option {
	return func(m *Monitor) {
		m.abortWhenDrained = v
	}
}

// WithSessionInfo sets the static part of the session descriptor. The id
// is always assigned by the IDGenerator.
func WithSessionInfo(s Session) Option {
	return func(m *Monitor) {
		m.sessionInfo = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// New creates a monitoring session reporting to url.
//
// Returns ErrMissingAPIKey when apiKey is empty. An empty url is allowed:
// the session collects interactions but Flush sends nothing until SetURL.
func New(url, apiKey string, opts ...Option) (*Monitor, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	m := &Monitor{
		url:         url,
		apiKey:      apiKey,
		inflight:    &Inflight{},
		sessionInfo: DefaultSession(),
		clock:       clock.System{},
		ids:         UUIDv7Generator{},
		window:      DefaultWindow,
		retryBudget: DefaultRetryBudget,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// URL returns the collector endpoint.
func (m *Monitor) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// SetURL replaces the collector endpoint.
func (m *Monitor) SetURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
}

// APIKey returns the key sent with every batch.
func (m *Monitor) APIKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiKey
}

// SetAPIKey replaces the key sent with batches flushed from now on.
// Returns ErrMissingAPIKey when apiKey is empty.
func (m *Monitor) SetAPIKey(apiKey string) error {
	if apiKey == "" {
		return ErrMissingAPIKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = apiKey
	return nil
}

// SetRoute records the current route pattern and concrete path. Both are
// read at flush time.
func (m *Monitor) SetRoute(route, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.route = route
	m.path = path
}

// Route returns the current route pattern and path.
func (m *Monitor) Route() (route, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route, m.path
}

// Inflight returns the pending-delivery counter.
func (m *Monitor) Inflight() *Inflight {
	return m.inflight
}

// StartInteraction opens an interaction for e, or returns the existing one
// when an interaction with the same non-empty entry id is present. A reused
// interaction keeps the longest reported duration.
func (m *Monitor) StartInteraction(e Entry) *Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID != "" {
		for _, it := range m.interactions {
			if it.Entry.ID != e.ID {
				continue
			}
			if e.Duration > it.Entry.Duration {
				it.Entry.Duration = e.Duration
			}
			return it
		}
	}

	if e.StartTime.IsZero() {
		e.StartTime = m.clock.Now()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = e.StartTime
	}
	it := &Interaction{Entry: e, Components: make(map[string]*Component)}
	m.interactions = append(m.interactions, it)
	m.logger.Debug("interaction started",
		"type", e.Type,
		"component", e.ComponentName,
		"interactions", len(m.interactions))
	return it
}

// RecordRender folds the records of one render of n into the latest
// interaction. Returns false when there is no interaction to attribute to
// or n has no display name.
func (m *Monitor) RecordRender(n *tree.Node, records []ir.RenderRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.interactions) == 0 || n == nil {
		return false
	}
	name := n.Name()
	if name == "" {
		return false
	}
	latest := m.interactions[len(m.interactions)-1]
	c, ok := latest.Components[name]
	if !ok {
		c = &Component{
			Name:        name,
			RetryBudget: m.retryBudget,
			instances:   make(map[weak.Pointer[tree.Node]]struct{}),
		}
		latest.Components[name] = c
	}
	c.addInstance(n)
	c.Renders += len(records)
	for _, r := range records {
		c.TotalTime += r.SelfTime
	}
	return true
}

// Interactions returns the interactions currently held by the session,
// oldest first. The slice is a copy; the interactions are shared.
func (m *Monitor) Interactions() []*Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Interaction, len(m.interactions))
	copy(out, m.interactions)
	return out
}
