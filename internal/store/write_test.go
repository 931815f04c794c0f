package store

import (
	"context"
	"testing"

	"github.com/roach88/hlcsim/internal/sim"
	"github.com/roach88/hlcsim/internal/trace"
)

func countRows(t *testing.T, s *Store, table, runID string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE run_id = ?", runID).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestWriteReport(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	report := runCausality(t, "run-1")

	if err := s.WriteReport(ctx, "causality", report); err != nil {
		t.Fatalf("WriteReport() failed: %v", err)
	}

	if got := countRows(t, s, "events", "run-1"); got != len(report.Trace) {
		t.Errorf("events = %d, want %d", got, len(report.Trace))
	}
	if got := countRows(t, s, "node_results", "run-1"); got != 2 {
		t.Errorf("node_results = %d, want 2", got)
	}
	if got := countRows(t, s, "violations", "run-1"); got != 0 {
		t.Errorf("violations = %d, want 0", got)
	}

	var remoteRows int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM events WHERE run_id = ? AND remote_physical IS NOT NULL",
		"run-1",
	).Scan(&remoteRows)
	if err != nil {
		t.Fatalf("count remote rows: %v", err)
	}
	if remoteRows != 1 {
		t.Errorf("events with a remote timestamp = %d, want 1 (the update)", remoteRows)
	}
}

func TestWriteReport_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	report := runCausality(t, "run-1")

	if err := s.WriteReport(ctx, "causality", report); err != nil {
		t.Fatalf("first WriteReport() failed: %v", err)
	}

	// Second write of the same run ID keeps the first.
	changed := *report
	changed.Pass = false
	if err := s.WriteReport(ctx, "renamed", &changed); err != nil {
		t.Fatalf("second WriteReport() failed: %v", err)
	}

	if got := countRows(t, s, "events", "run-1"); got != len(report.Trace) {
		t.Errorf("events = %d after rewrite, want %d", got, len(report.Trace))
	}

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Scenario != "causality" || !run.Pass {
		t.Errorf("run = %+v, want the first write", run.RunSummary)
	}
}

func TestWriteReport_ErrorsAndViolations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	report := &sim.Report{
		RunID: "run-bad",
		Nodes: []sim.NodeResult{
			{ID: "a", Status: sim.StatusTimeout, Error: "NODE_TIMEOUT: context deadline exceeded (node=a)"},
			{ID: "b", Status: sim.StatusOK},
		},
		Errors: []*sim.Error{
			{Code: sim.ErrCodeNodeTimeout, Message: "context deadline exceeded", NodeID: "a"},
			{Code: sim.ErrCodeBusDelivery, Message: "envelope b-1 to a dropped: inbox full", NodeID: "b"},
		},
		Violations: []trace.Violation{
			{Rule: trace.RuleMonotonic, NodeID: "b", EventID: "e1", Message: "100.0 not after 100.1"},
		},
	}

	if err := s.WriteReport(ctx, "broken", report); err != nil {
		t.Fatalf("WriteReport() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "run-bad")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Pass {
		t.Error("run.Pass = true, want false")
	}
	if len(run.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2", len(run.Errors))
	}
	if run.Errors[0].Code != sim.ErrCodeNodeTimeout || run.Errors[1].Code != sim.ErrCodeBusDelivery {
		t.Errorf("error codes = %s, %s; want report order", run.Errors[0].Code, run.Errors[1].Code)
	}
	if len(run.Violations) != 1 || run.Violations[0] != report.Violations[0] {
		t.Errorf("violations = %v, want %v", run.Violations, report.Violations)
	}
	if run.Nodes[0].Status != sim.StatusTimeout {
		t.Errorf("node a status = %q, want %q", run.Nodes[0].Status, sim.StatusTimeout)
	}
}
