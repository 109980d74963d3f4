package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nCommits:\n")
	for _, ev := range e.Trace {
		if ev.Op != OpCommit {
			continue
		}
		kinds := make([]string, 0, len(ev.Records))
		for _, r := range ev.Records {
			kinds = append(kinds, r.Node+":"+string(r.Kind))
		}
		fmt.Fprintf(&buf, "  [%d] commit %d %s %v\n", ev.Step, ev.Commit, ev.Mode, kinds)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and
// returns the failure messages.
func EvaluateAssertions(r *Result, assertions []Assertion, h *Harness) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(r, a, h); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(r *Result, a Assertion, h *Harness) error {
	switch a.Type {
	case AssertRenderCount:
		return assertRenderCount(r, a)
	case AssertReportCount:
		return assertReportCount(r, a, h)
	case AssertRecordKinds:
		return assertRecordKinds(r, a)
	case AssertUnstable:
		return assertUnstable(r, a)
	case AssertFlushCount:
		return expectCount(r, a.Type, "flushes with a batch", a.Count, len(r.Batches()))
	case AssertLiveStats:
		return expectCount(r, a.Type, "live aggregates", a.Count, len(h.inst.Stats()))
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertRenderCount(r *Result, a Assertion) error {
	got := 0
	for _, st := range r.Stats {
		if st.Node == a.Node {
			got = st.RenderCount
		}
	}
	return expectCount(r, a.Type, "renders of "+a.Node, a.Count, got)
}

func assertReportCount(r *Result, a Assertion, h *Harness) error {
	ls, ok := h.inst.ReportByName(a.Component)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d renders of %s", a.Count, a.Component),
			Actual:   "no report for " + a.Component,
			Trace:    r.Trace,
		}
	}
	return expectCount(r, a.Type, "renders of "+a.Component, a.Count, ls.RenderCount)
}

// assertRecordKinds compares the kinds emitted for a node in one commit.
func assertRecordKinds(r *Result, a Assertion) error {
	var got []string
	for _, ev := range r.Trace {
		if ev.Op != OpCommit || ev.Commit != a.Commit {
			continue
		}
		for _, rec := range ev.Records {
			if rec.Node == a.Node {
				got = append(got, string(rec.Kind))
			}
		}
	}
	if slices.Equal(got, a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s in commit %d: %v", a.Node, a.Commit, a.Kinds),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    r.Trace,
	}
}

func assertUnstable(r *Result, a Assertion) error {
	for _, ev := range r.Trace {
		for _, rec := range ev.Records {
			if rec.Node != a.Node {
				continue
			}
			for _, c := range rec.Changes {
				if c.Name == a.Prop && c.Unstable {
					return nil
				}
			}
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s.%s reported unstable", a.Node, a.Prop),
		Actual:   "not found in trace",
		Trace:    r.Trace,
	}
}

func expectCount(r *Result, typ, what string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    r.Trace,
	}
}
