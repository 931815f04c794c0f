package scenario

import (
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hlcsim/internal/canonical"
	"github.com/roach88/hlcsim/internal/sim"
	"github.com/roach88/hlcsim/internal/trace"
)

// Snapshot renders the deterministic part of a report as canonical JSON:
// each node's events in program order, without the global recording
// sequence, which depends on goroutine scheduling.
func Snapshot(name string, report *sim.Report) ([]byte, error) {
	byNode := trace.ByNode(report.Trace)
	ids := make([]string, 0, len(byNode))
	for id := range byNode {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	nodes := make(map[string]any, len(ids))
	for _, id := range ids {
		events := make([]any, len(byNode[id]))
		for i, e := range byNode[id] {
			m := map[string]any{
				"kind":     string(e.Kind),
				"physical": e.Timestamp.Physical,
				"logical":  e.Timestamp.Logical,
			}
			if e.Peer != "" {
				m["peer"] = e.Peer
			}
			if e.EnvelopeID != "" {
				m["envelope"] = e.EnvelopeID
			}
			if e.Remote != nil {
				m["remote"] = e.Remote.String()
			}
			events[i] = m
		}
		nodes[id] = events
	}

	violations := make([]any, len(report.Violations))
	for i, v := range report.Violations {
		violations[i] = v.String()
	}

	return canonical.Marshal(map[string]any{
		"scenario":   name,
		"pass":       report.Pass,
		"nodes":      nodes,
		"violations": violations,
	})
}

// AssertGolden compares the report snapshot against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run the test with -update.
func AssertGolden(t *testing.T, name string, report *sim.Report) error {
	t.Helper()

	data, err := Snapshot(name, report)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
