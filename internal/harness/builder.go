package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/testutil"
	"github.com/roach88/renderscan/internal/tree"
)

// builder maintains the double-buffered tree a scenario commits.
type builder struct {
	values   *valueDecoder
	types    map[string]*tree.ComponentType
	contexts map[string]*tree.Context

	root  *tree.Root
	nodes map[string]*tree.Node // current buffer by id
	ids   map[*tree.Node]string // both buffers
}

func newBuilder(values *valueDecoder) *builder {
	return &builder{
		values:   values,
		types:    make(map[string]*tree.ComponentType),
		contexts: make(map[string]*tree.Context),
		nodes:    make(map[string]*tree.Node),
		ids:      make(map[*tree.Node]string),
	}
}

// Type returns the component definition for name, creating it once.
func (b *builder) Type(name string) *tree.ComponentType {
	t, ok := b.types[name]
	if !ok {
		t = testutil.Type(name)
		b.types[name] = t
	}
	return t
}

// ID returns the scenario id of either buffer of a node.
func (b *builder) ID(n *tree.Node) string {
	return b.ids[n]
}

// Node returns the current buffer of the node with id.
func (b *builder) Node(id string) *tree.Node {
	return b.nodes[id]
}

// IDs returns the ids of the mounted nodes, sorted.
func (b *builder) IDs() []string {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// commit builds the next version of the tree from specs. It returns the
// root to commit and the ids of the nodes that unmounted, sorted.
func (b *builder) commit(specs []NodeSpec) (*tree.Root, []string, error) {
	seen := make(map[string]bool)
	children, err := b.children("", specs, seen)
	if err != nil {
		return nil, nil, err
	}

	if b.root == nil {
		b.root = testutil.MountedRoot(children...)
	} else {
		next := testutil.Flip(b.root.Current)
		testutil.Link(next, children...)
		b.root.Current = next
	}

	var unmounted []string
	for id, n := range b.nodes {
		if seen[id] {
			continue
		}
		b.unmount(n)
		delete(b.nodes, id)
		unmounted = append(unmounted, id)
	}
	slices.Sort(unmounted)
	return b.root, unmounted, nil
}

func (b *builder) children(parent string, specs []NodeSpec, seen map[string]bool) ([]*tree.Node, error) {
	out := make([]*tree.Node, 0, len(specs))
	for i, spec := range specs {
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("%s/%d", parent, i)
		}
		n, err := b.node(id, spec, seen)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", id, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (b *builder) node(id string, spec NodeSpec, seen map[string]bool) (*tree.Node, error) {
	seen[id] = true
	tag := tagOf(spec)
	var typ *tree.ComponentType
	if spec.Type != "" {
		typ = b.Type(spec.Type)
	}

	var n *tree.Node
	if prev, ok := b.nodes[id]; ok && prev.Tag == tag && prev.Type == typ && prev.HostType == spec.Host {
		n = testutil.Flip(prev)
	} else {
		if ok {
			b.unmount(prev)
		}
		n = &tree.Node{
			Tag:         tag,
			Type:        typ,
			ElementType: typ,
			HostType:    spec.Host,
			Props:       ir.NewObject(),
		}
	}
	n.Key = spec.Key
	n.ActualDuration = spec.Duration
	n.MemoCache = spec.Memo
	if spec.Rendered == nil || *spec.Rendered {
		n.Flags |= tree.PerformedWork
	}

	if spec.Props != nil {
		props, err := b.values.decodeObject(spec.Props)
		if err != nil {
			return nil, fmt.Errorf("props: %w", err)
		}
		n.Props = props
	}
	if spec.State != nil {
		state := make([]ir.Value, 0, len(spec.State))
		for i, s := range spec.State {
			v, err := b.values.decode(s)
			if err != nil {
				return nil, fmt.Errorf("state[%d]: %w", i, err)
			}
			state = append(state, v)
		}
		n.State = state
	}
	if spec.Contexts != nil {
		deps, err := b.contextDeps(spec.Contexts)
		if err != nil {
			return nil, err
		}
		n.Contexts = deps
	}

	children, err := b.children(id, spec.Children, seen)
	if err != nil {
		return nil, err
	}
	testutil.Link(n, children...)

	b.nodes[id] = n
	b.ids[n] = id
	return n, nil
}

// contextDeps builds the consumed contexts in name order.
func (b *builder) contextDeps(values map[string]any) ([]tree.ContextDependency, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	deps := make([]tree.ContextDependency, 0, len(names))
	for _, name := range names {
		ctx, ok := b.contexts[name]
		if !ok {
			ctx = &tree.Context{DisplayName: name}
			b.contexts[name] = ctx
		}
		v, err := b.values.decode(values[name])
		if err != nil {
			return nil, fmt.Errorf("context %s: %w", name, err)
		}
		deps = append(deps, tree.ContextDependency{Context: ctx, Value: v})
	}
	return deps, nil
}

// unmount marks both buffers of n deleted and detached. Descendants are
// unmounted on their own when their ids go missing too.
func (b *builder) unmount(n *tree.Node) {
	n.Flags |= tree.Deletion
	n.Return = nil
	delete(b.ids, n)
	if alt := n.Alternate; alt != nil {
		alt.Flags |= tree.Deletion
		alt.Return = nil
		delete(b.ids, alt)
	}
}

func tagOf(spec NodeSpec) tree.Tag {
	if spec.Tag != "" {
		tag, _ := tree.ParseTag(spec.Tag)
		return tag
	}
	if spec.Host != "" {
		return tree.HostComponent
	}
	return tree.FunctionComponent
}
