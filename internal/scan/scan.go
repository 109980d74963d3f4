// Package scan ties the render observer together.
//
// An Instance owns every piece of state: the commit walker, the
// aggregation store, the outline tracker and queue, the monitoring session
// and the flush scheduler. Nothing is global, so several instances can
// observe several trees side by side.
//
// Every entry point takes the instance lock, which serializes commits,
// interaction starts, option changes and flush ticks. Lifecycle callbacks
// and render subscriptions run after the lock is released.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/renderscan/internal/aggregate"
	"github.com/roach88/renderscan/internal/clock"
	"github.com/roach88/renderscan/internal/detect"
	"github.com/roach88/renderscan/internal/engine"
	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/monitor"
	"github.com/roach88/renderscan/internal/outline"
	"github.com/roach88/renderscan/internal/transport"
	"github.com/roach88/renderscan/internal/tree"
)

// DefaultFlushInterval is the period of the flush scheduler.
const DefaultFlushInterval = 2000 * time.Millisecond

// ErrMissingAPIKey is returned by StartMonitor when no API key is set.
var ErrMissingAPIKey = monitor.ErrMissingAPIKey

// ErrRunning is returned by Start when the scheduler already runs.
var ErrRunning = errors.New("flush scheduler already running")

// RenderFunc receives one render of a node.
type RenderFunc func(n *tree.Node, records []ir.RenderRecord)

type subscription struct {
	id int
	fn RenderFunc
}

// Instance is one observer.
//
// Thread-safety: all methods are safe for concurrent use.
type Instance struct {
	mu sync.Mutex

	store    *aggregate.Store
	walker   *engine.Walker
	tracker  *outline.Tracker
	outlines *outline.Queue
	clock    clock.Clock
	logger   *slog.Logger

	subs   map[*tree.ComponentType][]subscription
	nextID int

	monitor     *monitor.Monitor
	monitorOpts []monitor.Option
	client      *transport.Client
	clientOpts  []transport.Option

	interval time.Duration
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Option configures an Instance.
type Option func(*config)

type config struct {
	patch         aggregate.OptionsPatch
	clock         clock.Clock
	logger        *slog.Logger
	filter        func(*tree.Node) bool
	detector      *detect.Detector
	queueCapacity int
	recordLimit   int
	interval      time.Duration
	monitorOpts   []monitor.Option
	clientOpts    []transport.Option
	client        *transport.Client
}

// WithOptions applies p over the defaults.
func WithOptions(p aggregate.OptionsPatch) Option {
	return func(c *config) {
		c.patch = p
	}
}

// WithClock sets the time source for rolling counts and flushes.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		c.clock = clk
	}
}

// WithLogger sets the logger shared by every component of the instance.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithFilter replaces the default filter predicate.
func WithFilter(filter func(*tree.Node) bool) Option {
	return func(c *config) {
		c.filter = filter
	}
}

// WithMaxDepth bounds how deep values are serialized when compared.
func WithMaxDepth(depth int) Option {
	return func(c *config) {
		c.detector = &detect.Detector{MaxDepth: depth}
	}
}

// WithQueueCapacity bounds the outline queue.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		c.queueCapacity = n
	}
}

// WithRecordLimit bounds the recent records kept per stat.
func WithRecordLimit(n int) Option {
	return func(c *config) {
		c.recordLimit = n
	}
}

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *config) {
		c.interval = d
	}
}

// WithMonitorOptions are passed to monitor.New by StartMonitor.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(c *config) {
		c.monitorOpts = append(c.monitorOpts, opts...)
	}
}

// WithTransportOptions are passed to transport.NewClient by StartMonitor.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// WithTransport uses client for deliveries instead of building one.
func WithTransport(client *transport.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// New creates an instance. Options passed through WithOptions are
// validated like SetOptions.
func New(opts ...Option) (*Instance, error) {
	cfg := &config{
		clock:    clock.System{},
		logger:   slog.Default(),
		interval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	initial, err := aggregate.DefaultOptions().Merge(cfg.patch)
	if err != nil {
		return nil, fmt.Errorf("scan options: %w", err)
	}

	storeOpts := []aggregate.StoreOption{aggregate.WithOptions(initial)}
	if cfg.recordLimit > 0 {
		storeOpts = append(storeOpts, aggregate.WithRecordLimit(cfg.recordLimit))
	}
	store := aggregate.NewStore(storeOpts...)

	walkerOpts := []engine.WalkerOption{
		engine.WithRecordable(store.Recordable),
		engine.WithLogger(cfg.logger),
	}
	if cfg.filter != nil {
		walkerOpts = append(walkerOpts, engine.WithFilter(cfg.filter))
	}
	if cfg.detector != nil {
		walkerOpts = append(walkerOpts, engine.WithDetector(*cfg.detector))
	}

	return &Instance{
		store:       store,
		walker:      engine.NewWalker(walkerOpts...),
		tracker:     outline.NewTracker(),
		outlines:    outline.NewQueue(cfg.queueCapacity),
		clock:       cfg.clock,
		logger:      cfg.logger,
		subs:        make(map[*tree.ComponentType][]subscription),
		monitorOpts: cfg.monitorOpts,
		client:      cfg.client,
		clientOpts:  cfg.clientOpts,
		interval:    cfg.interval,
	}, nil
}

// Options returns the current options.
func (i *Instance) Options() aggregate.Options {
	return i.store.Options()
}

// SetOptions merges p into the current options. Aggregated data and
// in-flight deliveries are never discarded. Monitor fields are applied to
// a running monitoring session; clearing its API key is rejected with
// ErrMissingAPIKey.
func (i *Instance) SetOptions(p aggregate.OptionsPatch) (aggregate.Options, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.monitor != nil && p.Monitor != nil && p.Monitor.APIKey != nil && *p.Monitor.APIKey == "" {
		return i.store.Options(), ErrMissingAPIKey
	}
	merged, err := i.store.SetOptions(p)
	if err != nil {
		return merged, err
	}
	if i.monitor != nil && p.Monitor != nil {
		if p.Monitor.URL != nil {
			i.monitor.SetURL(merged.Monitor.URL)
		}
		if p.Monitor.APIKey != nil {
			_ = i.monitor.SetAPIKey(merged.Monitor.APIKey)
		}
		i.monitor.SetRoute(merged.Monitor.Route, merged.Monitor.Path)
	}
	return merged, nil
}

// Allow adds typ to the allow-list. Without opts the entry takes the
// instance's IncludeChildren option.
func (i *Instance) Allow(typ *tree.ComponentType, opts ...aggregate.AllowOptions) {
	o := aggregate.AllowOptions{IncludeChildren: i.store.Options().IncludeChildren}
	if len(opts) > 0 {
		o = opts[0]
	}
	i.store.AllowList().Allow(typ, o)
}

// Disallow removes typ from the allow-list.
func (i *Instance) Disallow(typ *tree.ComponentType) {
	i.store.AllowList().Remove(typ)
}

// OnRender subscribes fn to renders of nodes whose type is typ. Several
// subscriptions per type run in subscription order. The returned function
// cancels the subscription.
func (i *Instance) OnRender(typ *tree.ComponentType, fn RenderFunc) (cancel func()) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.nextID++
	id := i.nextID
	i.subs[typ] = append(i.subs[typ], subscription{id: id, fn: fn})

	return func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		i.subs[typ] = slices.DeleteFunc(i.subs[typ], func(s subscription) bool { return s.id == id })
		if len(i.subs[typ]) == 0 {
			delete(i.subs, typ)
		}
	}
}

// notification is one render delivered to hooks after the lock is released.
type notification struct {
	node    *tree.Node
	records []ir.RenderRecord
	subs    []RenderFunc
}

// Commit observes one commit of root.
//
// While recording is disabled the commit is ignored. A failing walk
// discards the commit's records and is returned as a *engine.WalkError;
// later commits are unaffected.
func (i *Instance) Commit(root *tree.Root) (engine.Result, error) {
	opts := i.store.Options()
	if !opts.Enabled {
		return engine.Result{}, nil
	}
	cb := opts.Callbacks
	i.call("onCommitStart", func() {
		if cb.OnCommitStart != nil {
			cb.OnCommitStart()
		}
	})

	res, notes, err := i.commit(root, opts)

	for _, n := range notes {
		i.call("onRender", func() {
			if cb.OnRender != nil {
				cb.OnRender(n.node, n.records)
			}
		})
		for _, fn := range n.subs {
			i.call("render subscription", func() { fn(n.node, n.records) })
		}
	}
	i.call("onCommitFinish", func() {
		if cb.OnCommitFinish != nil {
			cb.OnCommitFinish()
		}
	})
	return res, err
}

func (i *Instance) commit(root *tree.Root, opts aggregate.Options) (engine.Result, []notification, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	defer func() {
		evicted := i.store.Sweep()
		dropped := i.tracker.Sweep()
		if evicted > 0 || dropped > 0 {
			i.logger.Debug("swept unmounted nodes", "stats", evicted, "counts", dropped)
		}
	}()

	res, err := i.walker.Walk(root)
	if err != nil {
		return res, nil, err
	}

	now := i.clock.Now()
	cfg := opts.OutlineConfig()
	notes := make([]notification, 0, len(res.Emissions))
	for _, em := range res.Emissions {
		if !i.store.RecordRender(em.Node, em.Records) {
			continue
		}
		i.outlines.Enqueue(i.tracker.Outlines(em.Node, em.Records, now, cfg)...)
		if i.monitor != nil {
			i.monitor.RecordRender(em.Node, em.Records)
		}

		n := notification{node: em.Node, records: em.Records}
		for _, s := range i.subs[em.Node.Type] {
			n.subs = append(n.subs, s.fn)
		}
		notes = append(notes, n)
	}
	return res, notes, nil
}

// call runs a host hook, logging and swallowing its panic.
func (i *Instance) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("hook panicked", "hook", name, "panic", r)
		}
	}()
	fn()
}

// DrainOutlines hands every queued outline to paint, bracketed by the
// OnPaintStart and OnPaintFinish hooks, and returns how many were painted.
func (i *Instance) DrainOutlines(paint func([]outline.Pending)) int {
	ps := i.outlines.Drain()
	if len(ps) == 0 {
		return 0
	}
	cb := i.store.Options().Callbacks
	i.call("onPaintStart", func() {
		if cb.OnPaintStart != nil {
			cb.OnPaintStart(ps)
		}
	})
	if paint != nil {
		i.call("paint", func() { paint(ps) })
	}
	i.call("onPaintFinish", func() {
		if cb.OnPaintFinish != nil {
			cb.OnPaintFinish(ps)
		}
	})
	return len(ps)
}

// Outlines returns the outline queue for painters that wait on it.
func (i *Instance) Outlines() *outline.Queue {
	return i.outlines
}

// Stat returns the aggregated statistics of n.
func (i *Instance) Stat(n *tree.Node) (aggregate.Stat, bool) {
	return i.store.Get(n)
}

// Stats returns every live statistic, most renders first.
func (i *Instance) Stats() []aggregate.Stat {
	return i.store.Stats()
}

// Report returns the by-name statistic of typ. It is only accumulated
// while the report option is on.
func (i *Instance) Report(typ *tree.ComponentType) (aggregate.LegacyStat, bool) {
	return i.store.Legacy(typ)
}

// ReportNames lists the display names with a by-name statistic.
func (i *Instance) ReportNames() []string {
	return i.store.LegacyNames()
}

// ReportByName returns the by-name statistic for a display name.
func (i *Instance) ReportByName(name string) (aggregate.LegacyStat, bool) {
	return i.store.GetByName(name)
}
