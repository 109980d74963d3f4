// Package detect compares two snapshots of a component's inputs and reports
// which entries changed and whether a change is only a new reference to an
// equivalent value.
package detect

import (
	"fmt"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/tree"
)

// ChildrenKey is the reserved prop holding a component's children. It is
// never reported: children are new elements on every parent render.
const ChildrenKey = "children"

// Unserializable replaces the text of a value the serializer rejected.
const Unserializable = "[unserializable]"

// Detector classifies changed snapshot entries. The zero value is ready to
// use with ir.DefaultMaxDepth.
type Detector struct {
	// MaxDepth bounds serialization of nested values.
	MaxDepth int
}

// Compare returns the changed entries between prev and next in key order.
// Either side may be nil, which reads as an empty snapshot.
//
// Entries are skipped when both sides are the same value, when either side
// is a UI element, and for the children key. A change is unstable when both
// sides are references that serialize to identical text.
func (d Detector) Compare(prev, next *ir.Object) []ir.Change {
	var changes []ir.Change
	for _, key := range ir.UnionKeys(prev, next) {
		if key == ChildrenKey {
			continue
		}
		a, _ := prev.Get(key)
		b, _ := next.Get(key)
		if c, ok := d.compareEntry(key, a, b); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// CompareContexts flattens consumed contexts into keyed snapshots and
// compares them. A context is keyed by its display name, or by context#i
// (i its position) when unnamed or when the name is already taken.
func (d Detector) CompareContexts(pairs []tree.ContextPair) []ir.Change {
	if len(pairs) == 0 {
		return nil
	}
	prev := &ir.Object{Fields: make(map[string]ir.Value, len(pairs))}
	next := &ir.Object{Fields: make(map[string]ir.Value, len(pairs))}
	for i, p := range pairs {
		key := p.Name
		if _, taken := next.Fields[key]; key == "" || taken {
			key = fmt.Sprintf("context#%d", i)
		}
		prev.Fields[key] = p.Prev
		next.Fields[key] = p.Next
	}
	var changes []ir.Change
	for _, key := range next.SortedKeys() {
		if c, ok := d.compareEntry(key, prev.Fields[key], next.Fields[key]); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

func (d Detector) compareEntry(key string, a, b ir.Value) (ir.Change, bool) {
	if ir.Same(a, b) || ir.IsElement(a) || ir.IsElement(b) {
		return ir.Change{}, false
	}
	prevText := d.text(a)
	nextText := d.text(b)
	return ir.Change{
		Name:     key,
		Prev:     a,
		Next:     b,
		PrevText: prevText,
		NextText: nextText,
		Unstable: ir.IsReference(a) && ir.IsReference(b) && prevText == nextText,
	}, true
}

func (d Detector) text(v ir.Value) string {
	s, err := ir.Serialize(v, d.MaxDepth)
	if err != nil {
		return Unserializable
	}
	return s
}
