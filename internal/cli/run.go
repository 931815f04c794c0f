package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsim/internal/scenario"
	"github.com/roach88/hlcsim/internal/sim"
	"github.com/roach88/hlcsim/internal/store"
	"github.com/roach88/hlcsim/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Timeout  time.Duration
	Seed     uint64

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator. A scenario's run_id wins.
	RunIDs sim.RunIDGenerator
}

// RunOutput is the result of a run in JSON output.
type RunOutput struct {
	RunID         string            `json:"run_id"`
	Scenario      string            `json:"scenario"`
	Pass          bool              `json:"pass"`
	Nodes         []sim.NodeResult  `json:"nodes"`
	Events        int               `json:"events"`
	Violations    []trace.Violation `json:"violations"`
	Errors        []*sim.Error      `json:"errors"`
	Failures      []string          `json:"assertion_failures"`
	Undelivered   int               `json:"undelivered"`
	Drops         int               `json:"drops"`
	DriftWarnings int               `json:"drift_warnings"`
	Digest        string            `json:"digest"`
	Database      string            `json:"database,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario and verify its trace",
		Long: `Run a YAML or CUE scenario file.

Every node runs its script concurrently. When all nodes finish (or the
timeout expires) the trace is verified and the scenario's assertions are
checked. With --db the report and full trace are stored for later
inspection with "hlcsim trace" and "hlcsim verify".

Exit codes:
  0 - Run passed and all assertions held
  1 - Violations, failed assertions, or nodes that did not finish
  2 - Command error (unreadable scenario, database error, etc.)

Example:
  hlcsim run ./scenarios/causality.yaml
  hlcsim run --db ./hlc.db --timeout 30s ./scenarios/ring.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database to store the run")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "override the scenario timeout")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "override the bus delay seed")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := scenario.Load(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoad, "failed to load scenario", err)
	}
	formatter.VerboseLog("Loaded scenario %s (%d steps)", s.Name, len(s.Script))

	cfg, err := s.Config()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidScenario, "invalid scenario", err)
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = opts.Seed
	}

	return executeRun(cmd, formatter, opts.Database, opts.RunIDs, s, cfg)
}

// executeRun runs cfg, stores the report when database is set and writes
// the outcome.
func executeRun(cmd *cobra.Command, formatter *OutputFormatter, database string, runIDs sim.RunIDGenerator, s *scenario.Scenario, cfg sim.Config) error {
	logger := formatter.Logger()
	ctx, stop := signalContext(cmd, logger)
	defer stop()

	runnerOpts := []scenario.RunnerOption{scenario.WithLogger(logger)}
	if runIDs != nil {
		runnerOpts = append(runnerOpts, scenario.WithRunIDGenerator(runIDs))
	}

	result, err := scenario.NewRunner(runnerOpts...).RunConfig(ctx, s, cfg)
	if err != nil {
		if sim.IsConfigError(err) {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidScenario, "invalid scenario", err)
		}
		return formatter.Fail(ExitFailure, ErrCodeRunFailed, "run could not start", err)
	}

	out := newRunOutput(result)
	if database != "" {
		if err := saveReport(ctx, database, s.Name, result.Report); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to store run", err)
		}
		out.Database = database
		formatter.VerboseLog("Stored run %s in %s", out.RunID, database)
	}

	if formatter.JSON() {
		if result.Pass() {
			return formatter.Success(out, "")
		}
		if err := formatter.Failure(out, ErrCodeRunFailed, failureMessage(out)); err != nil {
			return err
		}
		return NewExitError(ExitFailure, failureMessage(out))
	}

	writeRunText(formatter.Writer, out)
	if !result.Pass() {
		return NewExitError(ExitFailure, failureMessage(out))
	}
	return nil
}

func saveReport(ctx context.Context, path, name string, report *sim.Report) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.WriteReport(ctx, name, report)
}

func newRunOutput(result *scenario.Result) RunOutput {
	r := result.Report
	out := RunOutput{
		RunID:         r.RunID,
		Scenario:      result.Scenario.Name,
		Pass:          result.Pass(),
		Nodes:         r.Nodes,
		Events:        len(r.Trace),
		Violations:    r.Violations,
		Errors:        r.Errors,
		Failures:      make([]string, 0, len(result.Failures)),
		Undelivered:   r.Undelivered,
		Drops:         len(r.Drops),
		DriftWarnings: len(r.DriftWarnings),
		Digest:        r.Digest,
	}
	for _, f := range result.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	if out.Violations == nil {
		out.Violations = []trace.Violation{}
	}
	if out.Errors == nil {
		out.Errors = []*sim.Error{}
	}
	return out
}

func failureMessage(out RunOutput) string {
	failed := 0
	for _, n := range out.Nodes {
		if n.Status != sim.StatusOK {
			failed++
		}
	}
	return fmt.Sprintf("run %s failed: %d violation(s), %d assertion failure(s), %d node(s) not ok",
		out.RunID, len(out.Violations), len(out.Failures), failed)
}

func writeRunText(w io.Writer, out RunOutput) {
	fmt.Fprintf(w, "Run %s (scenario %s)\n\n", out.RunID, out.Scenario)
	for _, n := range out.Nodes {
		fmt.Fprintf(w, "  %-10s %-8s final %-18s events %-4d received %d\n",
			n.ID, n.Status, n.Final, n.Events, n.Received)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d  Undelivered: %d  Drops: %d  Drift warnings: %d\n",
		out.Events, out.Undelivered, out.Drops, out.DriftWarnings)

	if len(out.Violations) > 0 {
		fmt.Fprintln(w, "\nViolations:")
		for _, v := range out.Violations {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
	if len(out.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range out.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if len(out.Failures) > 0 {
		fmt.Fprintln(w, "\nAssertion failures:")
		for _, f := range out.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	if out.Database != "" {
		fmt.Fprintf(w, "\nStored in %s\n", out.Database)
	}

	fmt.Fprintln(w)
	if out.Pass {
		fmt.Fprintln(w, "✓ PASS")
	} else {
		fmt.Fprintln(w, "✗ FAIL")
	}
}

// signalContext derives a context from the command that is cancelled on
// SIGINT or SIGTERM. The returned stop function releases the handler.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, func()) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
