package testutil

// FixedIDGenerator generates the same session id every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same trace with the same FixedIDGenerator produces byte-identical
// wire payloads.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a new fixed id generator.
//
// The id is typically set in the scenario's monitor section:
//
//	monitor:
//	  sessionId: "test-session-00000000-0000-0000-0000-000000000001"
//
// If id is empty, Generate() returns "test-session-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-session-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements monitor.IDGenerator interface.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
