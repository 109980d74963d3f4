package aggregate

import (
	"sync"

	"github.com/roach88/renderscan/internal/tree"
)

// AllowOptions configure one allow-listed component type.
type AllowOptions struct {
	// IncludeChildren makes every descendant of an instance of the type
	// recordable too.
	IncludeChildren bool
}

// AllowList restricts recording to selected component types.
//
// Entries are keyed by type identity, not by instance. An empty list
// allows everything.
type AllowList struct {
	mu      sync.RWMutex
	entries map[*tree.ComponentType]AllowOptions
}

// NewAllowList creates an empty allow-list.
func NewAllowList() *AllowList {
	return &AllowList{entries: make(map[*tree.ComponentType]AllowOptions)}
}

// Allow adds or replaces the entry for typ.
func (a *AllowList) Allow(typ *tree.ComponentType, opts AllowOptions) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[typ] = opts
}

// Remove deletes the entry for typ.
func (a *AllowList) Remove(typ *tree.ComponentType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, typ)
}

// Len returns the number of entries.
func (a *AllowList) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Recordable reports whether n may be recorded: the list is empty, n's
// type or element type is listed, or a strict ancestor is listed with
// IncludeChildren.
func (a *AllowList) Recordable(n *tree.Node) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.entries) == 0 {
		return true
	}
	if _, ok := a.lookup(n); ok {
		return true
	}
	return tree.FindAncestor(n, func(p *tree.Node) bool {
		opts, ok := a.lookup(p)
		return ok && opts.IncludeChildren
	}) != nil
}

func (a *AllowList) lookup(n *tree.Node) (AllowOptions, bool) {
	if n.Type != nil {
		if opts, ok := a.entries[n.Type]; ok {
			return opts, true
		}
	}
	if n.ElementType != nil {
		if opts, ok := a.entries[n.ElementType]; ok {
			return opts, true
		}
	}
	return AllowOptions{}, false
}
