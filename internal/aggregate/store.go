// Package aggregate accumulates per-component render statistics.
//
// Stats are keyed by node identity through weak pointers, so the store never
// keeps a component alive: when the host drops a node, a runtime cleanup
// evicts its stat, and Sweep evicts stats of unmounted nodes at every commit
// finish without waiting for the collector.
package aggregate

import (
	"cmp"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"weak"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/tree"
)

// DefaultRecordLimit bounds the recent records kept per stat.
const DefaultRecordLimit = 64

// MinSelfTime is credited for a render whose measured self time is zero,
// the lowest precision the host timer reports.
const MinSelfTime = 0.1

// Stat is the cumulative render statistics of one component instance.
type Stat struct {
	RenderCount   int
	TotalSelfTime float64
	// Records holds the most recent records, oldest first.
	Records     []ir.RenderRecord
	DisplayName string
}

// LegacyStat is the by-name statistic kept for reports. Every instance of
// a component with the same display name contributes to it.
type LegacyStat struct {
	RenderCount   int
	TotalSelfTime float64
	Records       []ir.RenderRecord
}

type entry struct {
	stat    Stat
	cleanup runtime.Cleanup
}

// Store is the aggregation store.
//
// Thread-safety: all methods are safe for concurrent use. Cleanups run on
// the runtime's cleanup goroutine and take the same lock.
type Store struct {
	mu          sync.Mutex
	opts        Options
	stats       map[weak.Pointer[tree.Node]]*entry
	legacy      map[string]*LegacyStat
	recordLimit int
	allow       *AllowList
}

// StoreOption allows configuration of store parameters.
type StoreOption func(*Store)

// WithRecordLimit sets how many recent records each stat keeps.
func WithRecordLimit(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.recordLimit = n
		}
	}
}

// WithOptions sets the initial options instead of DefaultOptions.
func WithOptions(o Options) StoreOption {
	return func(s *Store) {
		s.opts = o
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		opts:        DefaultOptions(),
		stats:       make(map[weak.Pointer[tree.Node]]*entry),
		legacy:      make(map[string]*LegacyStat),
		recordLimit: DefaultRecordLimit,
		allow:       NewAllowList(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AllowList returns the store's allow-list.
func (s *Store) AllowList() *AllowList {
	return s.allow
}

// Recordable reports whether n passes the allow-list.
func (s *Store) Recordable(n *tree.Node) bool {
	return s.allow.Recordable(n)
}

// SetOptions merges p into the current options and returns the result.
// Aggregated data is never discarded by an option change.
func (s *Store) SetOptions(p OptionsPatch) (Options, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, err := s.opts.Merge(p)
	if err != nil {
		return s.opts, fmt.Errorf("set options: %w", err)
	}
	s.opts = merged
	return merged, nil
}

// Options returns the current options.
func (s *Store) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// RecordRender folds one render of n into its stat.
//
// The stat is resolved alternate-aware: an existing entry for n, else an
// existing entry for n's alternate, else a new entry keyed by n. Both
// buffers of a component therefore share one stat. Returns false when
// recording is disabled.
func (s *Store) RecordRender(n *tree.Node, records []ir.RenderRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opts.Enabled || n == nil {
		return false
	}

	selfTime := tree.SelfTime(n)
	if selfTime <= 0 {
		selfTime = MinSelfTime
	}
	e := s.resolve(n)
	e.stat.RenderCount++
	e.stat.TotalSelfTime += selfTime
	e.stat.Records = appendBounded(e.stat.Records, records, s.recordLimit)
	if e.stat.DisplayName == "" {
		e.stat.DisplayName = n.Name()
	}

	if name := n.Name(); s.opts.Report && name != "" {
		ls, ok := s.legacy[name]
		if !ok {
			ls = &LegacyStat{}
			s.legacy[name] = ls
		}
		ls.RenderCount++
		ls.TotalSelfTime += selfTime
		ls.Records = appendBounded(ls.Records, records, s.recordLimit)
	}
	return true
}

// resolve returns the entry for n's identity, creating it when absent.
// Caller must hold s.mu.
func (s *Store) resolve(n *tree.Node) *entry {
	if e, ok := s.stats[weak.Make(n)]; ok {
		return e
	}
	if n.Alternate != nil {
		if e, ok := s.stats[weak.Make(n.Alternate)]; ok {
			return e
		}
	}

	key := weak.Make(n)
	e := &entry{}
	// The cleanup argument is the weak key: it must not keep n reachable.
	e.cleanup = runtime.AddCleanup(n, s.evict, key)
	s.stats[key] = e
	return e
}

// evict is the runtime cleanup for a collected node.
func (s *Store) evict(key weak.Pointer[tree.Node]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stats, key)
}

// Get returns a snapshot of n's stat, resolved alternate-aware.
func (s *Store) Get(n *tree.Node) (Stat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n == nil {
		return Stat{}, false
	}
	e, ok := s.stats[weak.Make(n)]
	if !ok && n.Alternate != nil {
		e, ok = s.stats[weak.Make(n.Alternate)]
	}
	if !ok {
		return Stat{}, false
	}
	st := e.stat
	st.Records = slices.Clone(st.Records)
	return st, true
}

// GetByName returns a snapshot of the legacy stat for a display name.
func (s *Store) GetByName(name string) (LegacyStat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.legacy[name]
	if !ok {
		return LegacyStat{}, false
	}
	out := *ls
	out.Records = slices.Clone(ls.Records)
	return out, true
}

// Legacy returns the legacy stat of a component type.
func (s *Store) Legacy(typ *tree.ComponentType) (LegacyStat, bool) {
	return s.GetByName(typ.Label())
}

// LegacyNames returns the display names with a legacy stat, sorted.
func (s *Store) LegacyNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.legacy))
	for name := range s.legacy {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns snapshots of every live stat, most renders first, then by
// display name.
func (s *Store) Stats() []Stat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stat, 0, len(s.stats))
	for _, e := range s.stats {
		st := e.stat
		st.Records = slices.Clone(st.Records)
		out = append(out, st)
	}
	slices.SortStableFunc(out, func(a, b Stat) int {
		if c := cmp.Compare(b.RenderCount, a.RenderCount); c != 0 {
			return c
		}
		return cmp.Compare(a.DisplayName, b.DisplayName)
	})
	return out
}

// Len returns the number of live stats.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stats)
}

// Sweep evicts stats whose node was collected or is unmounted and returns
// how many were evicted.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, e := range s.stats {
		n := key.Value()
		if n != nil && !tree.IsUnmounted(n) {
			continue
		}
		e.cleanup.Stop()
		delete(s.stats, key)
		evicted++
	}
	return evicted
}

// appendBounded appends src to dst keeping at most limit newest items.
func appendBounded(dst, src []ir.RenderRecord, limit int) []ir.RenderRecord {
	dst = append(dst, src...)
	if over := len(dst) - limit; over > 0 {
		dst = slices.Delete(dst, 0, over)
	}
	return dst
}
