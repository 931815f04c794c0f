package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/hlcsim/internal/hlc"
	"github.com/roach88/hlcsim/internal/sim"
	"github.com/roach88/hlcsim/internal/trace"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID            string `json:"id"`
	Scenario      string `json:"scenario"`
	Pass          bool   `json:"pass"`
	NodeCount     int    `json:"node_count"`
	EventCount    int    `json:"event_count"`
	Undelivered   int    `json:"undelivered"`
	Drops         int    `json:"drops"`
	DriftWarnings int    `json:"drift_warnings"`
	Digest        string `json:"digest"`
}

// Run is a stored run without its events.
type Run struct {
	RunSummary
	Nodes      []sim.NodeResult  `json:"nodes"`
	Errors     []sim.Error       `json:"errors"`
	Violations []trace.Violation `json:"violations"`
}

// ListRuns returns every stored run ordered by ID. UUIDv7 run IDs make
// this creation order.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, pass, node_count, event_count, undelivered, drops, drift_warnings, digest
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		r, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run with its node results, errors and violations.
// Returns ErrRunNotFound if the run does not exist.
func (s *Store) ReadRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, pass, node_count, event_count, undelivered, drops, drift_warnings, digest
		FROM runs
		WHERE id = ?
	`, runID)
	summary, err := scanRunSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	run := &Run{RunSummary: summary}
	if run.Nodes, err = s.readNodeResults(ctx, runID); err != nil {
		return nil, err
	}
	if run.Errors, err = s.readRunErrors(ctx, runID); err != nil {
		return nil, err
	}
	if run.Violations, err = s.readViolations(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

// ReadEvents returns a run's events in recording order. A non-empty
// nodeID restricts the result to that node.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadEvents(ctx context.Context, runID, nodeID string) ([]trace.Event, error) {
	query := `
		SELECT id, seq, node_id, node_seq, kind, physical, logical,
		       prev_physical, prev_logical, remote_physical, remote_logical, remote_node,
		       peer, envelope_id
		FROM events
		WHERE run_id = ?`
	args := []any{runID}
	if nodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, nodeID)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []trace.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRunSummary(row scanner) (RunSummary, error) {
	var r RunSummary
	var pass int
	err := row.Scan(&r.ID, &r.Scenario, &pass, &r.NodeCount, &r.EventCount, &r.Undelivered, &r.Drops, &r.DriftWarnings, &r.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	if err != nil {
		return r, fmt.Errorf("scan run: %w", err)
	}
	r.Pass = pass != 0
	return r, nil
}

func scanEvent(row scanner) (trace.Event, error) {
	var e trace.Event
	var kind string
	var remotePhysical, remoteLogical sql.NullInt64
	var remoteNode sql.NullString

	err := row.Scan(
		&e.ID, &e.Seq, &e.NodeID, &e.NodeSeq, &kind,
		&e.Timestamp.Physical, &e.Timestamp.Logical,
		&e.Prev.Physical, &e.Prev.Logical,
		&remotePhysical, &remoteLogical, &remoteNode,
		&e.Peer, &e.EnvelopeID,
	)
	if err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}

	if e.Kind, err = trace.ParseKind(kind); err != nil {
		return e, fmt.Errorf("scan event %s: %w", e.ID, err)
	}
	e.Timestamp.NodeID = e.NodeID
	e.Prev.NodeID = e.NodeID
	if remotePhysical.Valid {
		e.Remote = &hlc.Timestamp{
			Physical: remotePhysical.Int64,
			Logical:  remoteLogical.Int64,
			NodeID:   remoteNode.String,
		}
	}
	return e, nil
}

func (s *Store) readNodeResults(ctx context.Context, runID string) ([]sim.NodeResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, status, final_physical, final_logical, events, received, error
		FROM node_results
		WHERE run_id = ?
		ORDER BY node_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query node results: %w", err)
	}
	defer rows.Close()

	results := []sim.NodeResult{}
	for rows.Next() {
		var n sim.NodeResult
		if err := rows.Scan(&n.ID, &n.Status, &n.Final.Physical, &n.Final.Logical, &n.Events, &n.Received, &n.Error); err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		n.Final.NodeID = n.ID
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node results: %w", err)
	}
	return results, nil
}

func (s *Store) readRunErrors(ctx context.Context, runID string) ([]sim.Error, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, node_id, message
		FROM run_errors
		WHERE run_id = ?
		ORDER BY pos ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run errors: %w", err)
	}
	defer rows.Close()

	out := []sim.Error{}
	for rows.Next() {
		var e sim.Error
		var code string
		if err := rows.Scan(&code, &e.NodeID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan run error: %w", err)
		}
		e.Code = sim.ErrorCode(code)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run errors: %w", err)
	}
	return out, nil
}

func (s *Store) readViolations(ctx context.Context, runID string) ([]trace.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule, node_id, event_id, message
		FROM violations
		WHERE run_id = ?
		ORDER BY pos ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	out := []trace.Violation{}
	for rows.Next() {
		var v trace.Violation
		if err := rows.Scan(&v.Rule, &v.NodeID, &v.EventID, &v.Message); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return out, nil
}
