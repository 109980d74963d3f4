package tree

import "github.com/roach88/renderscan/internal/ir"

// SelfTime returns the time n spent rendering itself, excluding its direct
// children, in milliseconds. Never negative.
func SelfTime(n *Node) float64 {
	if n == nil {
		return 0
	}
	total := n.ActualDuration
	for c := n.Child; c != nil; c = c.Sibling {
		total -= c.ActualDuration
	}
	if total < 0 {
		return 0
	}
	return total
}

// DidRender reports whether n produced new output in this commit.
//
// Composite nodes report it through the PerformedWork flag. Any other node
// rendered when it is new or when its props, state or ref changed identity.
func DidRender(n *Node) bool {
	if n.Tag.IsComposite() {
		return n.Flags.Has(PerformedWork)
	}
	prev := n.Alternate
	if prev == nil {
		return true
	}
	return prev.Props != n.Props || !sameState(prev.State, n.State) || !ir.Same(prev.Ref, n.Ref)
}

// StateChanged reports whether any local state slot of n changed identity
// against its alternate. A node without an alternate has no prior state.
func StateChanged(n *Node) bool {
	if n == nil || n.Alternate == nil {
		return false
	}
	return !sameState(n.Alternate.State, n.State)
}

// ChangedStateSlots returns the indexes of state slots whose value changed
// identity against the alternate. Slots present on only one side count as
// changed.
func ChangedStateSlots(n *Node) []int {
	if n == nil || n.Alternate == nil {
		return nil
	}
	prev, next := n.Alternate.State, n.State
	var out []int
	for i := 0; i < max(len(prev), len(next)); i++ {
		var a, b ir.Value
		if i < len(prev) {
			a = prev[i]
		}
		if i < len(next) {
			b = next[i]
		}
		if !ir.Same(a, b) {
			out = append(out, i)
		}
	}
	return out
}

func sameState(a, b []ir.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ir.Same(a[i], b[i]) {
			return false
		}
	}
	return true
}

// ContextPair is one consumed context with its value in the prior and the
// current render.
type ContextPair struct {
	Name string
	Prev ir.Value
	Next ir.Value
}

// ContextPairs pairs each context n consumed with the value its alternate
// saw. Contexts the alternate did not read pair with an absent prior value.
// A node without an alternate has no pairs.
func ContextPairs(n *Node) []ContextPair {
	if n == nil || n.Alternate == nil || len(n.Contexts) == 0 {
		return nil
	}
	prevByCtx := make(map[*Context]ir.Value, len(n.Alternate.Contexts))
	for _, dep := range n.Alternate.Contexts {
		prevByCtx[dep.Context] = dep.Value
	}
	pairs := make([]ContextPair, 0, len(n.Contexts))
	for _, dep := range n.Contexts {
		name := ""
		if dep.Context != nil {
			name = dep.Context.DisplayName
		}
		pairs = append(pairs, ContextPair{
			Name: name,
			Prev: prevByCtx[dep.Context],
			Next: dep.Value,
		})
	}
	return pairs
}

// ShouldFilter is the default predicate for nodes that carry no observable
// logic: host output and structural wrappers. Filtered nodes are still
// traversed for their descendants.
func ShouldFilter(n *Node) bool {
	switch n.Tag {
	case HostRoot:
		return false
	case HostComponent, HostText, HostPortal, Fragment, Mode, Offscreen, LegacyHidden, DehydratedSuspense:
		return true
	default:
		return false
	}
}

// HasContent reports whether a host root node holds mounted, hydrated content.
func HasContent(root *Node) bool {
	return root != nil && root.Child != nil && !root.Dehydrated
}

// IsUnmounted reports whether n has been removed from the tree.
func IsUnmounted(n *Node) bool {
	if n == nil {
		return true
	}
	if n.Flags.Has(Deletion) {
		return true
	}
	if n.Return == nil && n.Tag != HostRoot {
		return true
	}
	return n.Alternate != nil && n.Alternate.Flags.Has(Deletion)
}

// FindAncestor returns the nearest strict ancestor of n matching pred.
func FindAncestor(n *Node, pred func(*Node) bool) *Node {
	if n == nil {
		return nil
	}
	for p := n.Return; p != nil; p = p.Return {
		if pred(p) {
			return p
		}
	}
	return nil
}

// NearestHost returns the host node whose geometry represents n: n itself
// when it is a host node, else the first host descendant, else the nearest
// host ancestor.
func NearestHost(n *Node) *Node {
	if n == nil {
		return nil
	}
	var found *Node
	Walk(n, func(c *Node) bool {
		if found != nil {
			return false
		}
		if c.Tag.IsHost() {
			found = c
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	return FindAncestor(n, func(p *Node) bool { return p.Tag.IsHost() })
}
