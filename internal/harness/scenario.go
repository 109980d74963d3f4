package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/renderscan/internal/aggregate"
	"github.com/roach88/renderscan/internal/tree"
)

// Scenario is a recorded sequence of commits and interactions replayed
// against a fresh instance.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Options are applied to the instance before the first step.
	Options *aggregate.OptionsPatch `yaml:"options,omitempty"`

	// Monitor starts a monitoring session before the first step.
	Monitor *MonitorSpec `yaml:"monitor,omitempty"`

	// Allow lists component names for the allow-list. Empty records all.
	Allow []AllowSpec `yaml:"allow,omitempty"`

	// Refs are named values. A {$ref: name} value resolves to the same
	// reference in every commit.
	Refs map[string]any `yaml:"refs,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final aggregates.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// MonitorSpec configures the monitoring session.
type MonitorSpec struct {
	// URL is the collector endpoint. Without one, batches go to an
	// in-process sink.
	URL    string `yaml:"url,omitempty"`
	APIKey string `yaml:"apiKey"`
	Route  string `yaml:"route,omitempty"`
	Path   string `yaml:"path,omitempty"`
	// SessionID fixes the session id for byte-stable batches.
	SessionID string `yaml:"sessionId,omitempty"`
	// AbortWhenDrained skips a flush that would leave no recent
	// interaction behind.
	AbortWhenDrained bool `yaml:"abortWhenDrained,omitempty"`
}

// AllowSpec is one allow-list entry.
type AllowSpec struct {
	Component       string `yaml:"component"`
	IncludeChildren *bool  `yaml:"includeChildren,omitempty"`
}

// Step is one scenario step. Exactly one field is set.
type Step struct {
	Commit      *CommitStep             `yaml:"commit,omitempty"`
	Advance     int                     `yaml:"advance,omitempty"` // milliseconds
	Interaction *InteractionStep        `yaml:"interaction,omitempty"`
	Flush       bool                    `yaml:"flush,omitempty"`
	Outlines    bool                    `yaml:"outlines,omitempty"`
	Options     *aggregate.OptionsPatch `yaml:"options,omitempty"`
	Route       *RouteStep              `yaml:"route,omitempty"`
}

// Op returns the step's operation name.
func (s Step) Op() string {
	switch {
	case s.Commit != nil:
		return OpCommit
	case s.Advance != 0:
		return OpAdvance
	case s.Interaction != nil:
		return OpInteraction
	case s.Flush:
		return OpFlush
	case s.Outlines:
		return OpOutlines
	case s.Options != nil:
		return OpOptions
	case s.Route != nil:
		return OpRoute
	default:
		return ""
	}
}

func (s Step) fields() int {
	n := 0
	for _, set := range []bool{
		s.Commit != nil, s.Advance != 0, s.Interaction != nil,
		s.Flush, s.Outlines, s.Options != nil, s.Route != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// CommitStep is the full tree of one commit. Nodes are matched to the
// previous commit by id: a matched node reuses its other buffer, an
// unmatched node mounts, and a node missing from the tree unmounts.
type CommitStep struct {
	Tree []NodeSpec `yaml:"tree"`
}

// NodeSpec describes one node of a commit.
type NodeSpec struct {
	// ID identifies the node across commits. Defaults to the parent's id
	// plus the child index.
	ID string `yaml:"id,omitempty"`
	// Type is the component name for composite nodes.
	Type string `yaml:"type,omitempty"`
	// Host is the element name for host nodes.
	Host string `yaml:"host,omitempty"`
	// Tag overrides the node tag ("memo", "forward_ref", "fragment", ...).
	Tag string `yaml:"tag,omitempty"`
	Key string `yaml:"key,omitempty"`

	// Props replaces the props object. Omitted props are carried over
	// from the previous commit unchanged.
	Props map[string]any `yaml:"props,omitempty"`
	// State replaces the state slots. Omitted state is carried over.
	State []any `yaml:"state,omitempty"`
	// Contexts replaces the consumed context values, by context name.
	Contexts map[string]any `yaml:"contexts,omitempty"`

	// Duration is the render time of the node and its subtree in
	// milliseconds.
	Duration float64 `yaml:"duration,omitempty"`
	// Rendered is false for a component that bailed out. Default true.
	Rendered *bool `yaml:"rendered,omitempty"`
	// Memo marks a compiler-memoized component.
	Memo bool `yaml:"memo,omitempty"`

	Children []NodeSpec `yaml:"children,omitempty"`
}

// InteractionStep starts an interaction at the current time.
type InteractionStep struct {
	ID       string  `yaml:"id,omitempty"`
	Type     string  `yaml:"type"`
	Name     string  `yaml:"name"`
	Path     string  `yaml:"path,omitempty"`
	Duration float64 `yaml:"duration,omitempty"` // milliseconds
}

// RouteStep changes the reported route.
type RouteStep struct {
	Route string `yaml:"route"`
	Path  string `yaml:"path"`
}

// Assertion validates the trace or the final aggregates.
type Assertion struct {
	// Type specifies the assertion type:
	// - "render_count": node rendered Count times (live aggregate)
	// - "report_count": component name rendered Count times (by-name)
	// - "record_kinds": node emitted Kinds, in order, in commit Commit
	// - "unstable": node reported prop Prop as unstable at least once
	// - "flush_count": Count flushes sent a batch
	// - "live_stats": Count live per-node aggregates remain
	Type string `yaml:"type"`

	Node      string   `yaml:"node,omitempty"`
	Component string   `yaml:"component,omitempty"`
	Prop      string   `yaml:"prop,omitempty"`
	Commit    int64    `yaml:"commit,omitempty"`
	Kinds     []string `yaml:"kinds,omitempty"`
	Count     int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRenderCount = "render_count"
	AssertReportCount = "report_count"
	AssertRecordKinds = "record_kinds"
	AssertUnstable    = "unstable"
	AssertFlushCount  = "flush_count"
	AssertLiveStats   = "live_stats"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Options != nil {
		if err := s.Options.Validate(); err != nil {
			return fmt.Errorf("options: %w", err)
		}
	}
	if s.Monitor != nil && s.Monitor.APIKey == "" {
		return fmt.Errorf("monitor: apiKey is required")
	}
	for i, a := range s.Allow {
		if a.Component == "" {
			return fmt.Errorf("allow[%d]: component is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, s.Monitor != nil); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, monitored bool) error {
	if n := step.fields(); n != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required, found %d", index, n)
	}
	switch step.Op() {
	case OpCommit:
		ids := make(map[string]bool)
		for j, n := range step.Commit.Tree {
			if err := validateNode(fmt.Sprintf("steps[%d].commit.tree[%d]", index, j), n, ids); err != nil {
				return err
			}
		}
	case OpAdvance:
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	case OpInteraction:
		if !monitored {
			return fmt.Errorf("steps[%d]: interaction requires a monitor section", index)
		}
		if step.Interaction.Type == "" {
			return fmt.Errorf("steps[%d].interaction: type is required", index)
		}
	case OpFlush:
		if !monitored {
			return fmt.Errorf("steps[%d]: flush requires a monitor section", index)
		}
	case OpOptions:
		if err := step.Options.Validate(); err != nil {
			return fmt.Errorf("steps[%d].options: %w", index, err)
		}
	}
	return nil
}

func validateNode(path string, n NodeSpec, ids map[string]bool) error {
	switch {
	case n.Type != "" && n.Host != "":
		return fmt.Errorf("%s: type and host are exclusive", path)
	case n.Type == "" && n.Host == "" && n.Tag == "":
		return fmt.Errorf("%s: one of type, host or tag is required", path)
	}
	if n.Tag != "" {
		if _, ok := tree.ParseTag(n.Tag); !ok {
			return fmt.Errorf("%s: unknown tag %q", path, n.Tag)
		}
	}
	if n.Duration < 0 {
		return fmt.Errorf("%s: duration must be non-negative", path)
	}
	if n.ID != "" {
		if ids[n.ID] {
			return fmt.Errorf("%s: duplicate id %q", path, n.ID)
		}
		ids[n.ID] = true
	}
	for i, c := range n.Children {
		if err := validateNode(fmt.Sprintf("%s.children[%d]", path, i), c, ids); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRenderCount:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for render_count", index)
		}
	case AssertReportCount:
		if a.Component == "" {
			return fmt.Errorf("assertions[%d]: component is required for report_count", index)
		}
	case AssertRecordKinds:
		if a.Node == "" || a.Commit <= 0 {
			return fmt.Errorf("assertions[%d]: node and commit are required for record_kinds", index)
		}
	case AssertUnstable:
		if a.Node == "" || a.Prop == "" {
			return fmt.Errorf("assertions[%d]: node and prop are required for unstable", index)
		}
	case AssertFlushCount, AssertLiveStats:
		// count may be zero
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
