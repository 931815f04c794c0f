package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/hlcsim/internal/sim"
	"github.com/roach88/hlcsim/internal/trace"
)

// WriteReport stores a run report in one transaction.
//
// Writing the same run ID twice is a no-op: the first write wins, so a
// report can be re-saved safely.
func (s *Store) WriteReport(ctx context.Context, scenario string, r *sim.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write report: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, scenario, pass, node_count, event_count, undelivered, drops, drift_warnings, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.RunID,
		scenario,
		boolToInt(r.Pass),
		len(r.Nodes),
		len(r.Trace),
		r.Undelivered,
		len(r.Drops),
		len(r.DriftWarnings),
		r.Digest,
	)
	if err != nil {
		return fmt.Errorf("write report %s: %w", r.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for _, n := range r.Nodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_results
			(run_id, node_id, status, final_physical, final_logical, events, received, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, n.ID, n.Status, n.Final.Physical, n.Final.Logical, n.Events, n.Received, n.Error); err != nil {
			return fmt.Errorf("write node result %s/%s: %w", r.RunID, n.ID, err)
		}
	}

	for _, e := range r.Trace {
		if err := writeEvent(ctx, tx, r.RunID, e); err != nil {
			return err
		}
	}

	for i, e := range r.Errors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_errors (run_id, pos, code, node_id, message)
			VALUES (?, ?, ?, ?, ?)
		`, r.RunID, i, string(e.Code), e.NodeID, e.Message); err != nil {
			return fmt.Errorf("write run error %s/%d: %w", r.RunID, i, err)
		}
	}

	for i, v := range r.Violations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO violations (run_id, pos, rule, node_id, event_id, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.RunID, i, v.Rule, v.NodeID, v.EventID, v.Message); err != nil {
			return fmt.Errorf("write violation %s/%d: %w", r.RunID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write report %s: commit: %w", r.RunID, err)
	}
	return nil
}

func writeEvent(ctx context.Context, tx *sql.Tx, runID string, e trace.Event) error {
	var remotePhysical, remoteLogical sql.NullInt64
	var remoteNode sql.NullString
	if e.Remote != nil {
		remotePhysical = sql.NullInt64{Int64: e.Remote.Physical, Valid: true}
		remoteLogical = sql.NullInt64{Int64: e.Remote.Logical, Valid: true}
		remoteNode = sql.NullString{String: e.Remote.NodeID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO events
		(id, run_id, seq, node_id, node_seq, kind, physical, logical,
		 prev_physical, prev_logical, remote_physical, remote_logical, remote_node,
		 peer, envelope_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		runID,
		e.Seq,
		e.NodeID,
		e.NodeSeq,
		string(e.Kind),
		e.Timestamp.Physical,
		e.Timestamp.Logical,
		e.Prev.Physical,
		e.Prev.Logical,
		remotePhysical,
		remoteLogical,
		remoteNode,
		e.Peer,
		e.EnvelopeID,
	)
	if err != nil {
		return fmt.Errorf("write event %s/%d: %w", runID, e.Seq, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
