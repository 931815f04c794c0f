package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsim/internal/store"
	"github.com/roach88/hlcsim/internal/trace"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - verify every run when empty
}

// VerifyResult is the outcome of re-verifying one stored run.
type VerifyResult struct {
	RunID      string            `json:"run_id"`
	Events     int               `json:"events"`
	Valid      bool              `json:"valid"`
	Violations []trace.Violation `json:"violations"`

	// Consistent is false when the recomputed violations differ in number
	// from the ones stored with the run.
	Consistent bool `json:"consistent"`

	// Intact is false when the stored events no longer hash to the digest
	// recorded with the run. Runs stored without a digest count as intact.
	Intact       bool   `json:"intact"`
	Digest       string `json:"digest"`
	StoredDigest string `json:"stored_digest"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check stored traces against the clock invariants",
		Long: `Read stored traces back and check them again.

Checks per-node monotonicity, the Prev chain, causality of updates, and
that every update's remote timestamp matches the send that produced it.
The events are also hashed again and compared with the digest recorded
when the run was saved, which catches edits the invariants cannot see.

Exit codes:
  0 - Every verified trace holds all invariants and matches its digest
  1 - At least one trace has violations or was modified
  2 - Command error (database not found, run not found)

Examples:
  hlcsim verify --db ./hlc.db
  hlcsim verify --db ./hlc.db --run 0190c6d2-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to verify (default: all runs)")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	runIDs := []string{opts.RunID}
	if opts.RunID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
		}
		runIDs = runIDs[:0]
		for _, r := range runs {
			runIDs = append(runIDs, r.ID)
		}
	}

	results := make([]VerifyResult, 0, len(runIDs))
	invalid := 0
	for _, id := range runIDs {
		res, err := verifyRun(ctx, st, id)
		if errors.Is(err, store.ErrRunNotFound) {
			return formatter.Fail(ExitCommandError, ErrCodeRunNotFound, "run not found: "+id, nil)
		}
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to verify run "+id, err)
		}
		formatter.VerboseLog("Verified %s: %d events, %d violation(s), intact %t", id, res.Events, len(res.Violations), res.Intact)
		if !res.Valid {
			invalid++
		}
		results = append(results, res)
	}

	if formatter.JSON() {
		if invalid == 0 {
			return formatter.Success(results, "")
		}
		msg := fmt.Sprintf("%d run(s) failed verification", invalid)
		if err := formatter.Failure(results, ErrCodeViolations, msg); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	w := formatter.Writer
	if len(results) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return nil
	}
	for _, res := range results {
		if res.Valid {
			fmt.Fprintf(w, "✓ %s (%d events)\n", res.RunID, res.Events)
			continue
		}
		fmt.Fprintf(w, "✗ %s (%d events, %d violation(s))\n", res.RunID, res.Events, len(res.Violations))
		if !res.Intact {
			fmt.Fprintf(w, "  trace digest mismatch: stored %s, computed %s\n", res.StoredDigest, res.Digest)
		}
		for _, v := range res.Violations {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d run(s) failed verification", invalid))
	}
	return nil
}

func verifyRun(ctx context.Context, st *store.Store, runID string) (VerifyResult, error) {
	run, err := st.ReadRun(ctx, runID)
	if err != nil {
		return VerifyResult{}, err
	}
	events, err := st.ReadEvents(ctx, runID, "")
	if err != nil {
		return VerifyResult{}, err
	}

	violations := trace.Verify(events)
	if violations == nil {
		violations = []trace.Violation{}
	}
	digest, err := trace.Digest(events)
	if err != nil {
		return VerifyResult{}, err
	}
	intact := run.Digest == "" || run.Digest == digest

	return VerifyResult{
		RunID:        runID,
		Events:       len(events),
		Valid:        len(violations) == 0 && intact,
		Violations:   violations,
		Consistent:   len(violations) == len(run.Violations),
		Intact:       intact,
		Digest:       digest,
		StoredDigest: run.Digest,
	}, nil
}

// openExisting opens a database that must already exist. store.Open
// would create a fresh one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}
	return store.Open(path)
}
