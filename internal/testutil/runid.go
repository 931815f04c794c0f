package testutil

// FixedRunID generates the same run ID every time.
//
// This enables deterministic test execution and golden snapshot comparison.
// Unlike sim.FixedGenerator, which hands out a list of IDs once and then
// panics, FixedRunID can drive any number of runs.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a fixed run ID generator.
//
// If id is empty, Generate() returns "test-run-default".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed run ID.
//
// Implements sim.RunIDGenerator.
func (g *FixedRunID) Generate() string {
	return g.id
}
