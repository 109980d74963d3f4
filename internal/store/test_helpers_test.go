package store

import (
	"maps"
	"path/filepath"
	"slices"
	"testing"

	"github.com/roach88/renderscan/internal/monitor"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testPayload builds a batch with one interaction and the given
// component name/time pairs.
func testPayload(session, interaction string, comps map[string]float64) monitor.Payload {
	p := monitor.Payload{
		Interactions: []monitor.WireInteraction{{
			ID: interaction, Name: "Button", Type: "pointer", Time: 48.25, Timestamp: 1704067200000,
		}},
		Components: []monitor.WireComponent{},
		Session: monitor.WireSession{
			ID: session, URL: "/cart/42", Route: "/cart/:id", Device: 2, Agent: "test-agent",
			CPU: 8, Mem: 4, Commit: "abc123", Branch: "main", Version: "0.1.0",
		},
	}
	for _, name := range slices.Sorted(maps.Keys(comps)) {
		p.Components = append(p.Components, monitor.WireComponent{
			Name: name, InteractionID: interaction, Instances: 1, Renders: 2, TotalTime: comps[name],
		})
	}
	return p
}
