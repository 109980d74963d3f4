package ir

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// WirePrecision is the number of decimal digits kept for non-integer numbers
// in wire payloads.
const WirePrecision = 5

var wireScale = math.Pow10(WirePrecision)

// MarshalWire produces the compact telemetry JSON for v.
//
// The encoding is deterministic and tuned for payload size:
//   - object keys in RFC 8785 order, no HTML escaping
//   - non-integer numbers rounded to WirePrecision decimal digits
//   - object fields holding nil, Null, false, "", an empty array or an
//     empty object are omitted, as are non-finite numbers
//
// Array items are never omitted; an omitted-kind item encodes as null.
// Opaque and Circular values have no wire form and are rejected.
func MarshalWire(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalWire(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RoundWire applies the wire rounding rule to f.
func RoundWire(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == math.Trunc(f) {
		return f
	}
	return math.Round(f*wireScale) / wireScale
}

func marshalWire(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case Number:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(RoundWire(f), 'f', -1, 64))
	case String:
		b, err := marshalString(string(val))
		if err != nil {
			return err
		}
		buf.Write(b)
	case *Array:
		buf.WriteByte('[')
		for i, item := range val.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalWire(buf, item); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case *Object:
		buf.WriteByte('{')
		first := true
		for _, k := range val.SortedKeys() {
			field := val.Fields[k]
			if omitOnWire(field) {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			key, err := marshalString(k)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := marshalWire(buf, field); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("no wire encoding for %T", v)
	}
	return nil
}

// omitOnWire reports whether an object field is dropped from the payload.
func omitOnWire(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case Bool:
		return !bool(val)
	case String:
		return val == ""
	case Number:
		f := float64(val)
		return math.IsNaN(f) || math.IsInf(f, 0)
	case *Array:
		return val.Len() == 0
	case *Object:
		return val.Len() == 0
	default:
		return false
	}
}
