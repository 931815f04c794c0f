package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/hlcsim/internal/node"
	"github.com/roach88/hlcsim/internal/sim"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// runCausality runs a two-node scenario where b updates from a's send.
func runCausality(t *testing.T, runID string) *sim.Report {
	t.Helper()

	at := int64(101)
	cfg := sim.Config{
		NodeIDs: []string{"a", "b"},
		Clock:   sim.ClockConfig{Mode: sim.ClockManual, Start: 100},
		Timeout: 5 * time.Second,
		Script: []sim.Step{
			{Node: "b", Action: node.Action{Op: node.OpTick}},
			{Node: "a", Action: node.Action{Op: node.OpSend, To: "b", Payload: []byte("hi")}},
			{Node: "b", Action: node.Action{Op: node.OpReceive, Wait: 1}},
			{Node: "b", Action: node.Action{Op: node.OpTick, At: &at}},
		},
	}

	s, err := sim.New(cfg, sim.WithRunIDGenerator(sim.NewFixedGenerator(runID)))
	if err != nil {
		t.Fatalf("sim.New() failed: %v", err)
	}
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !report.Pass {
		t.Fatalf("run did not pass: %v %v", report.Violations, report.Errors)
	}
	return report
}
