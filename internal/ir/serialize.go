package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxDepth bounds how far Serialize descends into nested values.
const DefaultMaxDepth = 4

const (
	depthMarker    = `"…"`
	circularMarker = `"[Circular]"`
	undefinedText  = "undefined"
)

// ErrDescribe is wrapped by Serialize when a host formatter panics.
var ErrDescribe = errors.New("opaque value formatter failed")

// Serialize renders v as compact, JSON-like text for change comparison.
//
// Nesting deeper than maxDepth renders as "…", and a reference that already
// appears on the path from the root renders as "[Circular]". Object keys are
// emitted in RFC 8785 order and strings are NFC normalized, so two values with
// the same shape always produce the same text.
//
// Serialize never panics. A failing opaque formatter is reported as an error
// wrapping ErrDescribe and the caller chooses the fallback.
func Serialize(v Value, maxDepth int) (string, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	s := &serializer{
		maxDepth: maxDepth,
		path:     make(map[any]struct{}),
	}
	if err := s.write(v, 0); err != nil {
		return "", err
	}
	return s.buf.String(), nil
}

type serializer struct {
	buf      bytes.Buffer
	maxDepth int
	// path holds the reference values between the root and the current
	// position. Siblings may share a reference; only ancestors are cycles.
	path map[any]struct{}
}

func (s *serializer) write(v Value, depth int) error {
	switch val := v.(type) {
	case nil:
		s.buf.WriteString(undefinedText)
	case Null:
		s.buf.WriteString("null")
	case Circular:
		s.buf.WriteString(circularMarker)
	case Bool:
		s.buf.WriteString(strconv.FormatBool(bool(val)))
	case Number:
		s.buf.WriteString(formatNumber(float64(val)))
	case String:
		b, err := marshalString(string(val))
		if err != nil {
			return err
		}
		s.buf.Write(b)
	case *Array:
		return s.writeArray(val, depth)
	case *Object:
		return s.writeObject(val, depth)
	case *Opaque:
		text, err := describeOpaque(val)
		if err != nil {
			return err
		}
		s.buf.WriteString(text)
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func (s *serializer) writeArray(arr *Array, depth int) error {
	if arr == nil {
		s.buf.WriteString("null")
		return nil
	}
	if _, onPath := s.path[arr]; onPath {
		s.buf.WriteString(circularMarker)
		return nil
	}
	if depth >= s.maxDepth {
		s.buf.WriteString(depthMarker)
		return nil
	}
	s.path[arr] = struct{}{}
	defer delete(s.path, arr)

	s.buf.WriteByte('[')
	for i, item := range arr.Items {
		if i > 0 {
			s.buf.WriteByte(',')
		}
		if err := s.write(item, depth+1); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	s.buf.WriteByte(']')
	return nil
}

func (s *serializer) writeObject(obj *Object, depth int) error {
	if obj == nil {
		s.buf.WriteString("null")
		return nil
	}
	if _, onPath := s.path[obj]; onPath {
		s.buf.WriteString(circularMarker)
		return nil
	}
	if depth >= s.maxDepth {
		s.buf.WriteString(depthMarker)
		return nil
	}
	s.path[obj] = struct{}{}
	defer delete(s.path, obj)

	s.buf.WriteByte('{')
	for i, k := range obj.SortedKeys() {
		if i > 0 {
			s.buf.WriteByte(',')
		}
		key, err := marshalString(k)
		if err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		s.buf.Write(key)
		s.buf.WriteByte(':')
		if err := s.write(obj.Fields[k], depth+1); err != nil {
			return fmt.Errorf("%q: %w", k, err)
		}
	}
	s.buf.WriteByte('}')
	return nil
}

// describeOpaque renders a host reference, recovering from a panicking
// host formatter.
func describeOpaque(op *Opaque) (text string, err error) {
	if op == nil {
		return "null", nil
	}
	if op.Describe != nil {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s %q: %v", ErrDescribe, op.Kind, op.Name, r)
			}
		}()
		return op.Describe(), nil
	}

	name := op.Name
	switch op.Kind {
	case OpaqueFunction:
		if name == "" {
			name = "anonymous"
		}
		return "function " + name + "()", nil
	case OpaqueElement:
		if name == "" {
			name = "Unknown"
		}
		if op.HasProps {
			return "<" + name + " …>", nil
		}
		return "<" + name + " />", nil
	case OpaqueSymbol:
		return "Symbol(" + name + ")", nil
	default:
		if name == "" {
			name = "Object"
		}
		return "[object " + name + "]", nil
	}
}

// formatNumber prints a float the way the host prints numbers: integers
// without a fraction, non-finite values by name.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0 && math.Signbit(f):
		return "-0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// marshalString produces a JSON string with NFC normalization and without
// HTML escaping (<, >, & are emitted literally).
func marshalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds trailing newline, remove it
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
