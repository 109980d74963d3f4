// Package outline produces the highlight descriptors consumed by the paint
// collaborator: one Pending per render record, scored by how often the node
// rendered recently.
package outline

import (
	"sync"
	"time"
	"weak"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/tree"
)

// Pending is one highlight waiting to be painted.
type Pending struct {
	// Target is the host node whose geometry the highlight surrounds.
	// Nil when the component rendered no host output.
	Target *tree.Node
	Node   *tree.Node
	Name   string
	Record ir.RenderRecord
	// Count is the node's rolling render count.
	Count int
	// Severity is Count relative to the configured maximum, in [0, 1].
	Severity float64
	// Time is the record's self time in milliseconds.
	Time float64
	At   time.Time
	// Animate is false when animations are turned off; the outline is
	// still delivered.
	Animate   bool
	ShowLabel bool
}

// Config is the subset of instance options that shapes outlines.
type Config struct {
	RenderCountThreshold int
	ResetCountTimeout    time.Duration
	MaxRenders           int
	Animate              bool
	AlwaysShowLabels     bool
}

// Severity scores count against maxRenders, clamped to [0, 1].
func Severity(count, maxRenders int) float64 {
	if count <= 0 {
		return 0
	}
	if maxRenders <= 0 {
		return 1
	}
	return min(float64(count)/float64(maxRenders), 1)
}

type rolling struct {
	count int
	last  time.Time
}

// Tracker keeps a rolling render count per node. A count resets when the
// node has not rendered for longer than the reset timeout.
//
// Entries are keyed weakly and resolved alternate-aware, like aggregate
// stats, so both buffers of a node share one count.
type Tracker struct {
	mu     sync.Mutex
	counts map[weak.Pointer[tree.Node]]*rolling
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[weak.Pointer[tree.Node]]*rolling)}
}

// Observe counts one render of n at now and returns the rolling count.
func (t *Tracker) Observe(n *tree.Node, now time.Time, resetTimeout time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := weak.Make(n)
	r, ok := t.counts[key]
	if !ok && n.Alternate != nil {
		key = weak.Make(n.Alternate)
		r, ok = t.counts[key]
	}
	if !ok {
		key = weak.Make(n)
		r = &rolling{}
		t.counts[key] = r
	}
	if resetTimeout > 0 && !r.last.IsZero() && now.Sub(r.last) > resetTimeout {
		r.count = 0
	}
	r.count++
	r.last = now
	return r.count
}

// Outlines counts one render of n and returns its highlights, one per
// record. Nothing is returned while the rolling count is below the
// configured threshold.
func (t *Tracker) Outlines(n *tree.Node, records []ir.RenderRecord, now time.Time, cfg Config) []Pending {
	count := t.Observe(n, now, cfg.ResetCountTimeout)
	if count < cfg.RenderCountThreshold || len(records) == 0 {
		return nil
	}
	severity := Severity(count, cfg.MaxRenders)
	target := tree.NearestHost(n)
	out := make([]Pending, 0, len(records))
	for _, r := range records {
		out = append(out, Pending{
			Target:    target,
			Node:      n,
			Name:      r.ComponentName,
			Record:    r,
			Count:     count,
			Severity:  severity,
			Time:      r.SelfTime,
			At:        now,
			Animate:   cfg.Animate,
			ShowLabel: cfg.AlwaysShowLabels || severity >= 1,
		})
	}
	return out
}

// Sweep drops counts of collected or unmounted nodes and returns how many
// were dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for key := range t.counts {
		if n := key.Value(); n == nil || tree.IsUnmounted(n) {
			delete(t.counts, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked nodes.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}
