// Package tree models the host runtime's retained, double-buffered component tree.
//
// The host owns every Node. Each committed node is paired with an Alternate
// holding the other of the two most recent versions, and the pair is what
// gives a component a stable identity across renders. Observers read the
// graph during a commit and must not retain strong references to nodes
// beyond it.
package tree

import "github.com/roach88/renderscan/internal/ir"

// Tag classifies a node.
type Tag int

const (
	FunctionComponent Tag = iota
	ClassComponent
	ForwardRef
	MemoComponent
	SimpleMemoComponent
	ContextConsumer
	ContextProvider
	HostRoot
	HostComponent
	HostText
	HostPortal
	Fragment
	Mode
	Profiler
	Suspense
	DehydratedSuspense
	Offscreen
	LegacyHidden
)

var tagNames = map[Tag]string{
	FunctionComponent:   "function",
	ClassComponent:      "class",
	ForwardRef:          "forward_ref",
	MemoComponent:       "memo",
	SimpleMemoComponent: "simple_memo",
	ContextConsumer:     "context_consumer",
	ContextProvider:     "context_provider",
	HostRoot:            "host_root",
	HostComponent:       "host_component",
	HostText:            "host_text",
	HostPortal:          "host_portal",
	Fragment:            "fragment",
	Mode:                "mode",
	Profiler:            "profiler",
	Suspense:            "suspense",
	DehydratedSuspense:  "dehydrated_suspense",
	Offscreen:           "offscreen",
	LegacyHidden:        "legacy_hidden",
}

// String returns the tag name used in traces.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTag resolves a trace tag name.
func ParseTag(name string) (Tag, bool) {
	for tag, n := range tagNames {
		if n == name {
			return tag, true
		}
	}
	return 0, false
}

// IsComposite reports whether nodes with this tag run user render logic and
// report completed work through the PerformedWork flag.
func (t Tag) IsComposite() bool {
	switch t {
	case FunctionComponent, ClassComponent, ForwardRef, MemoComponent, SimpleMemoComponent, ContextConsumer:
		return true
	default:
		return false
	}
}

// IsHost reports whether nodes with this tag own a piece of host output
// (the geometry a highlight is drawn around).
func (t Tag) IsHost() bool {
	return t == HostComponent || t == HostText
}

// Flags are the commit effect flags the host sets on a node.
type Flags uint32

const (
	PerformedWork Flags = 1 << iota
	Placement
	Update
	Deletion
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// ComponentType is the identity of a component definition. Two nodes render
// the same component iff their Type pointers are equal.
type ComponentType struct {
	Name        string
	DisplayName string
	// Inner is the wrapped definition for memo and forward-ref wrappers.
	Inner *ComponentType
}

// Label returns the human-readable name: the explicit display name, then the
// definition name, then the wrapped definition's label.
func (c *ComponentType) Label() string {
	for t := c; t != nil; t = t.Inner {
		if t.DisplayName != "" {
			return t.DisplayName
		}
		if t.Name != "" {
			return t.Name
		}
	}
	return ""
}

// Unwrap returns the innermost wrapped definition.
func (c *ComponentType) Unwrap() *ComponentType {
	t := c
	for t != nil && t.Inner != nil {
		t = t.Inner
	}
	return t
}

// Context identifies a context object. Identity is pointer identity.
type Context struct {
	DisplayName string
}

// ContextDependency is one context a node read during its last render.
type ContextDependency struct {
	Context *Context
	Value   ir.Value
}

// Node is one version of a component instance.
type Node struct {
	Tag Tag
	// Type is the component definition; nil for host and structural nodes.
	Type *ComponentType
	// ElementType is the type as written at the element site. It differs
	// from Type for lazy and memo wrappers.
	ElementType *ComponentType
	// HostType is the host element name ("div") for host nodes.
	HostType string
	Key      string

	Props    *ir.Object
	State    []ir.Value
	Contexts []ContextDependency
	Ref      ir.Value
	Flags    Flags

	// ActualDuration is the time in milliseconds spent rendering this node
	// and its descendants in the last render.
	ActualDuration float64
	// MemoCache is set when the component was compiled with automatic
	// memoization.
	MemoCache bool
	// Dehydrated is set on a root whose content has not been hydrated yet.
	Dehydrated bool

	Child     *Node
	Sibling   *Node
	Return    *Node
	Alternate *Node
}

// Root is a committed tree. Current is the host root node.
type Root struct {
	Current *Node
}

// Children returns the direct children of n in order.
func (n *Node) Children() []*Node {
	var out []*Node
	for c := n.Child; c != nil; c = c.Sibling {
		out = append(out, c)
	}
	return out
}

// Name returns the label of the node: the component label for composite
// nodes, the host element name for host nodes.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	if n.Type != nil {
		return n.Type.Label()
	}
	if n.ElementType != nil {
		return n.ElementType.Label()
	}
	return n.HostType
}

// Walk visits n and all its descendants in pre-order. Siblings of n are not
// visited. Returning false from fn stops descent below that node.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for c := n.Child; c != nil; c = c.Sibling {
		Walk(c, fn)
	}
}
