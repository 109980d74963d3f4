package harness

import (
	"encoding/json"

	"github.com/roach88/renderscan/internal/ir"
)

// Trace operations.
const (
	OpCommit      = "commit"
	OpAdvance     = "advance"
	OpInteraction = "interaction"
	OpFlush       = "flush"
	OpOutlines    = "outlines"
	OpOptions     = "options"
	OpRoute       = "route"
)

// TraceEvent is the observable outcome of one scenario step.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`

	// Commit steps.
	Commit    int64         `json:"commit,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	Records   []RecordTrace `json:"records,omitempty"`
	Unmounted []string      `json:"unmounted,omitempty"`
	Error     string        `json:"error,omitempty"`

	// Advance steps: milliseconds since the scenario epoch.
	Now int64 `json:"now,omitempty"`

	// Interaction steps: the wire id.
	Interaction string `json:"interaction,omitempty"`

	// Outline steps.
	Outlines []OutlineTrace `json:"outlines,omitempty"`

	// Flush steps. Batch is the uncompressed wire body, absent when the
	// flush sent nothing.
	Batch json.RawMessage `json:"batch,omitempty"`
}

// RecordTrace is one render record attributed to a scenario node.
type RecordTrace struct {
	Node      string        `json:"node"`
	Kind      ir.RenderKind `json:"kind"`
	Component string        `json:"component"`
	Changes   []ir.Change   `json:"changes,omitempty"`
	SelfTime  float64       `json:"selfTime"`
	Trigger   bool          `json:"trigger,omitempty"`
	Forget    bool          `json:"forget,omitempty"`
}

// OutlineTrace is one painted highlight.
type OutlineTrace struct {
	Node     string        `json:"node"`
	Target   string        `json:"target,omitempty"`
	Kind     ir.RenderKind `json:"kind"`
	Count    int           `json:"count"`
	Severity float64       `json:"severity"`
	Animate  bool          `json:"animate,omitempty"`
}

// StatTrace is the final aggregate of one live node.
type StatTrace struct {
	Node          string  `json:"node"`
	Name          string  `json:"name"`
	RenderCount   int     `json:"renderCount"`
	TotalSelfTime float64 `json:"totalSelfTime"`
}

// ReportTrace is the final by-name aggregate of one component.
type ReportTrace struct {
	Name          string  `json:"name"`
	RenderCount   int     `json:"renderCount"`
	TotalSelfTime float64 `json:"totalSelfTime"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Stats are the live per-node aggregates after the last step, by node id.
	Stats []StatTrace `json:"stats"`

	// Report holds the by-name aggregates, empty unless the report option
	// was on.
	Report []ReportTrace `json:"report,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Stats:  []StatTrace{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Batches returns the flushed bodies in order.
func (r *Result) Batches() []json.RawMessage {
	var out []json.RawMessage
	for _, ev := range r.Trace {
		if ev.Op == OpFlush && ev.Batch != nil {
			out = append(out, ev.Batch)
		}
	}
	return out
}
