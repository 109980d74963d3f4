package testutil

import (
	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/tree"
)

// Type creates a component definition with the given name.
func Type(name string) *tree.ComponentType {
	return &tree.ComponentType{Name: name}
}

// Component creates a function-component node that performed work.
// A nil props object is replaced by an empty one.
func Component(typ *tree.ComponentType, props *ir.Object) *tree.Node {
	if props == nil {
		props = ir.NewObject()
	}
	return &tree.Node{
		Tag:         tree.FunctionComponent,
		Type:        typ,
		ElementType: typ,
		Props:       props,
		Flags:       tree.PerformedWork,
	}
}

// Host creates a host element node.
func Host(name string) *tree.Node {
	return &tree.Node{Tag: tree.HostComponent, HostType: name, Props: ir.NewObject()}
}

// Link makes children the ordered children of parent and returns parent.
func Link(parent *tree.Node, children ...*tree.Node) *tree.Node {
	parent.Child = nil
	var prev *tree.Node
	for _, c := range children {
		c.Return = parent
		c.Sibling = nil
		if prev == nil {
			parent.Child = c
		} else {
			prev.Sibling = c
		}
		prev = c
	}
	return parent
}

// MountedRoot creates a root whose current host root holds children and
// whose alternate is empty, the shape of a first commit.
func MountedRoot(children ...*tree.Node) *tree.Root {
	current := Link(&tree.Node{Tag: tree.HostRoot}, children...)
	current.Alternate = &tree.Node{Tag: tree.HostRoot, Alternate: current}
	return &tree.Root{Current: current}
}

// NextVersion returns the next version of n paired with n through
// Alternate. Props, state, contexts and tree links are shared until the
// caller replaces them, matching a bailout. Effect flags are cleared.
func NextVersion(n *tree.Node) *tree.Node {
	next := *n
	next.Flags = 0
	next.Alternate = n
	n.Alternate = &next
	return &next
}

// Rendered marks n as having performed work and returns it.
func Rendered(n *tree.Node) *tree.Node {
	n.Flags |= tree.PerformedWork
	return n
}

// Flip returns the other buffer of n for the next commit, the way the host
// reuses the two objects of a node: the alternate is recycled with n's
// props, state, contexts and children, and its flags are cleared. A node
// without an alternate gets one through NextVersion.
func Flip(n *tree.Node) *tree.Node {
	if n.Alternate == nil {
		return NextVersion(n)
	}
	next := n.Alternate
	next.Props = n.Props
	next.State = n.State
	next.Contexts = n.Contexts
	next.Child = n.Child
	next.Flags = 0
	next.ActualDuration = 0
	return next
}
