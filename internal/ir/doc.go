// Package ir provides the value and record types shared by every renderscan package.
//
// This package contains type definitions and their serializers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Host values are a closed variant set (Null, Bool, Number, String, *Array,
//     *Object, *Opaque, Circular). Reference identity is pointer identity.
//   - Serialization is depth- and cycle-bounded and never panics; failures are
//     returned as errors and callers pick the fallback.
//   - Wire JSON is deterministic: object keys sorted in RFC 8785 order.
package ir
