package ir

// RenderKind is the cause a render record attributes a render to.
type RenderKind string

const (
	KindProps   RenderKind = "props"
	KindState   RenderKind = "state"
	KindContext RenderKind = "context"
	// KindMisc is emitted when a component rendered and no other cause applies
	// (a parent re-rendered it without new props, for example).
	KindMisc RenderKind = "misc"
)

// ValidKinds defines allowed render kinds.
var ValidKinds = map[RenderKind]bool{
	KindProps:   true,
	KindState:   true,
	KindContext: true,
	KindMisc:    true,
}

// Change is one changed entry of a props or context snapshot.
type Change struct {
	Name string `json:"name"`
	Prev Value  `json:"-"`
	Next Value  `json:"-"`
	// PrevText and NextText are the bounded serializations the detector
	// compared, or the fallback text when serialization failed.
	PrevText string `json:"prev"`
	NextText string `json:"next"`
	// Unstable is set when both sides are references with identical
	// serialized shape: a value recreated on every render.
	Unstable bool `json:"unstable,omitempty"`
}

// RenderRecord describes one cause of one component render in one commit.
type RenderRecord struct {
	Kind          RenderKind `json:"kind"`
	ComponentName string     `json:"component_name"`
	Changes       []Change   `json:"changes,omitempty"`
	// SelfTime is the component's own render time in milliseconds,
	// excluding children.
	SelfTime float64 `json:"self_time"`
	// Trigger reports that local state changed in the same commit.
	Trigger bool `json:"trigger,omitempty"`
	// Forget reports that the component carries a compiler memo cache.
	Forget bool `json:"forget,omitempty"`
	Count  int  `json:"count"`
}

// HasUnstable reports whether any change of r is unstable.
func (r RenderRecord) HasUnstable() bool {
	for _, c := range r.Changes {
		if c.Unstable {
			return true
		}
	}
	return false
}
