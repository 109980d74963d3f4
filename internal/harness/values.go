package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/renderscan/internal/ir"
)

// valueDecoder turns YAML values into snapshot values.
//
// Plain mappings and sequences become new references on every decode, the
// way a render recreates literals. Single-key mappings starting with $ are
// directives:
//
//	{$ref: name}        the named value from the scenario's refs, same reference every time
//	{$fn: name}         a new function reference
//	{$element: Type}    a UI element
//	{$symbol: desc}     a new symbol
//	{$undefined: true}  an absent value
type valueDecoder struct {
	defs      map[string]any
	refs      map[string]ir.Value
	resolving map[string]bool
}

func newValueDecoder(defs map[string]any) *valueDecoder {
	return &valueDecoder{
		defs:      defs,
		refs:      make(map[string]ir.Value),
		resolving: make(map[string]bool),
	}
}

func (d *valueDecoder) decode(v any) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return ir.Null{}, nil
	case bool:
		return ir.Bool(val), nil
	case int:
		return ir.Number(float64(val)), nil
	case int64:
		return ir.Number(float64(val)), nil
	case uint64:
		return ir.Number(float64(val)), nil
	case float64:
		return ir.Number(val), nil
	case string:
		return ir.String(val), nil
	case []any:
		items := make([]ir.Value, 0, len(val))
		for i, item := range val {
			iv, err := d.decode(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, iv)
		}
		return ir.NewArray(items...), nil
	case map[string]any:
		if dv, ok, err := d.directive(val); ok || err != nil {
			return dv, err
		}
		return d.decodeObject(val)
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func (d *valueDecoder) decodeObject(m map[string]any) (*ir.Object, error) {
	obj := &ir.Object{Fields: make(map[string]ir.Value, len(m))}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, err := d.decode(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if v != nil {
			obj.Fields[k] = v
		}
	}
	return obj, nil
}

// directive resolves a $-prefixed single-key mapping. ok is false for an
// ordinary mapping.
func (d *valueDecoder) directive(m map[string]any) (ir.Value, bool, error) {
	if len(m) != 1 {
		return nil, false, nil
	}
	var key string
	var arg any
	for k, v := range m {
		key, arg = k, v
	}
	if !strings.HasPrefix(key, "$") {
		return nil, false, nil
	}

	name, _ := arg.(string)
	switch key {
	case "$ref":
		v, err := d.ref(name)
		return v, true, err
	case "$fn":
		return ir.Func(name), true, nil
	case "$element":
		return ir.Element(name, false), true, nil
	case "$symbol":
		return &ir.Opaque{Kind: ir.OpaqueSymbol, Name: name}, true, nil
	case "$undefined":
		return nil, true, nil
	default:
		return nil, true, fmt.Errorf("unknown directive %q", key)
	}
}

func (d *valueDecoder) ref(name string) (ir.Value, error) {
	if v, ok := d.refs[name]; ok {
		return v, nil
	}
	def, ok := d.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown ref %q", name)
	}
	if d.resolving[name] {
		return nil, fmt.Errorf("ref %q refers to itself", name)
	}
	d.resolving[name] = true
	defer delete(d.resolving, name)

	v, err := d.decode(def)
	if err != nil {
		return nil, fmt.Errorf("ref %q: %w", name, err)
	}
	d.refs[name] = v
	return v, nil
}
