package detect

import (
	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/tree"
)

// ChangedProps returns the names of props whose value changed identity
// between n and its alternate. Unlike Compare it keeps element values and
// children, so an inspector can highlight every changed field.
func ChangedProps(n *tree.Node) []string {
	if n == nil || n.Alternate == nil {
		return nil
	}
	prev, next := n.Alternate.Props, n.Props
	var names []string
	for _, key := range ir.UnionKeys(prev, next) {
		a, _ := prev.Get(key)
		b, _ := next.Get(key)
		if !ir.Same(a, b) {
			names = append(names, key)
		}
	}
	return names
}

// ChangedState returns the indexes of state slots that changed identity
// between n and its alternate.
func ChangedState(n *tree.Node) []int {
	return tree.ChangedStateSlots(n)
}

// ChangedContexts returns the names of consumed contexts whose value changed.
func ChangedContexts(n *tree.Node) []string {
	var names []string
	for _, c := range (Detector{}).CompareContexts(tree.ContextPairs(n)) {
		names = append(names, c.Name)
	}
	return names
}
