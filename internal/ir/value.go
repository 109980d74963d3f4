package ir

import (
	"math"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface representing a snapshot of a host value
// (a prop, a state hook, a context value).
//
// Only Null, Bool, Number, String, *Array, *Object, *Opaque and Circular
// implement it. Array, Object and Opaque implement it on the pointer, so the
// pointer is the reference identity of the host value.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Null represents an explicit null.
type Null struct{}

func (Null) irValue() {}

// Bool represents a boolean.
type Bool bool

func (Bool) irValue() {}

// Number represents a numeric value. All host numbers are float64.
type Number float64

func (Number) irValue() {}

// String represents a string.
type String string

func (String) irValue() {}

// Array is an ordered list of values. Reference-typed.
type Array struct {
	Items []Value
}

func (*Array) irValue() {}

// Len returns the number of items.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Items)
}

// Object maps string keys to values. Reference-typed.
// Use SortedKeys() for deterministic iteration.
type Object struct {
	Fields map[string]Value
}

func (*Object) irValue() {}

// OpaqueKind distinguishes the host references that cannot be inspected.
type OpaqueKind int

const (
	// OpaqueFunction is a callable (event handler, render prop).
	OpaqueFunction OpaqueKind = iota + 1
	// OpaqueElement is a UI element descriptor. Elements are never diffed.
	OpaqueElement
	// OpaqueSymbol is a unique token with only a description.
	OpaqueSymbol
	// OpaqueHost is any other host-owned reference (DOM node, class instance).
	OpaqueHost
)

// String returns the kind name.
func (k OpaqueKind) String() string {
	switch k {
	case OpaqueFunction:
		return "function"
	case OpaqueElement:
		return "element"
	case OpaqueSymbol:
		return "symbol"
	case OpaqueHost:
		return "host"
	default:
		return "unknown"
	}
}

// Opaque is a host reference whose contents are not captured. Reference-typed.
type Opaque struct {
	Kind OpaqueKind
	// Name is the function name, element type name, symbol description
	// or host class name.
	Name string
	// HasProps reports whether an element carries props ("<Button …>").
	HasProps bool
	// Describe optionally renders the value the way the host would print it.
	// It is host code: it may panic, and the serializer recovers.
	Describe func() string
}

func (*Opaque) irValue() {}

// Circular marks a back-reference that was cut when the snapshot was taken.
type Circular struct{}

func (Circular) irValue() {}

// NewArray creates an Array from values.
func NewArray(vals ...Value) *Array {
	return &Array{Items: vals}
}

// Pair is a key-value pair for typed Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewObject(O("name", String("cart")), O("count", Number(5)))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from key-value pairs.
func NewObject(pairs ...Pair) *Object {
	obj := &Object{Fields: make(map[string]Value, len(pairs))}
	for _, p := range pairs {
		obj.Fields[p.Key] = p.Value
	}
	return obj
}

// Func creates a function reference.
func Func(name string) *Opaque {
	return &Opaque{Kind: OpaqueFunction, Name: name}
}

// Element creates a UI element descriptor.
func Element(typeName string, hasProps bool) *Opaque {
	return &Opaque{Kind: OpaqueElement, Name: typeName, HasProps: hasProps}
}

// Get returns the value stored under key and whether it is present.
func (obj *Object) Get(key string) (Value, bool) {
	if obj == nil {
		return nil, false
	}
	v, ok := obj.Fields[key]
	return v, ok
}

// Set stores a value, allocating the field map on first use.
func (obj *Object) Set(key string, v Value) {
	if obj.Fields == nil {
		obj.Fields = make(map[string]Value)
	}
	obj.Fields[key] = v
}

// Len returns the number of fields.
func (obj *Object) Len() int {
	if obj == nil {
		return 0
	}
	return len(obj.Fields)
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (obj *Object) SortedKeys() []string {
	if obj == nil {
		return nil
	}
	keys := make([]string, 0, len(obj.Fields))
	for k := range obj.Fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// UnionKeys returns the sorted union of the keys of a and b.
// Either object may be nil.
func UnionKeys(a, b *Object) []string {
	seen := make(map[string]struct{}, a.Len()+b.Len())
	keys := make([]string, 0, a.Len()+b.Len())
	for _, obj := range []*Object{a, b} {
		if obj == nil {
			continue
		}
		for k := range obj.Fields {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// If all compared units are equal, shorter string comes first
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// Same reports whether a and b are the same value with Object.is semantics:
// primitives compare by value (NaN is the same as NaN, +0 and -0 differ),
// reference-typed values compare by pointer. A nil Value means "absent"
// and is only the same as another absent value.
func Same(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Circular:
		_, ok := b.(Circular)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		if !ok {
			return false
		}
		x, y := float64(av), float64(bv)
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		return x == y && math.Signbit(x) == math.Signbit(y)
	case *Array:
		bv, ok := b.(*Array)
		return ok && av == bv
	case *Object:
		bv, ok := b.(*Object)
		return ok && av == bv
	case *Opaque:
		bv, ok := b.(*Opaque)
		return ok && av == bv
	default:
		return false
	}
}

// IsReference reports whether v has reference identity (arrays, objects,
// functions and other opaque references).
func IsReference(v Value) bool {
	switch v.(type) {
	case *Array, *Object, *Opaque:
		return true
	default:
		return false
	}
}

// IsElement reports whether v is a UI element descriptor.
func IsElement(v Value) bool {
	op, ok := v.(*Opaque)
	return ok && op != nil && op.Kind == OpaqueElement
}
