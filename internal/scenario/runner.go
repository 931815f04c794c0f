package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/hlcsim/internal/sim"
)

// Result is the outcome of running a scenario.
type Result struct {
	Scenario *Scenario
	Report   *sim.Report

	// Failures lists the assertions that did not hold.
	Failures []error
}

// Pass reports whether the run passed and every assertion held.
func (r *Result) Pass() bool {
	return r.Report.Pass && len(r.Failures) == 0
}

// Runner executes scenarios.
type Runner struct {
	logger *slog.Logger
	runIDs sim.RunIDGenerator
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger handed to every simulation.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithRunIDGenerator overrides run IDs for scenarios without run_id.
func WithRunIDGenerator(g sim.RunIDGenerator) RunnerOption {
	return func(r *Runner) {
		r.runIDs = g
	}
}

// NewRunner creates a runner. Logs are discarded unless WithLogger is set.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		runIDs: sim.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run converts s to a simulation, runs it and checks its assertions.
// The error is non-nil only when the simulation could not start.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return r.RunConfig(ctx, s, cfg)
}

// RunConfig runs cfg in place of s's own configuration. Callers use it to
// override fields such as the timeout or seed from the command line.
func (r *Runner) RunConfig(ctx context.Context, s *Scenario, cfg sim.Config) (*Result, error) {
	ids := r.runIDs
	if s.RunID != "" {
		ids = sim.NewFixedGenerator(s.RunID)
	}

	simulation, err := sim.New(cfg,
		sim.WithLogger(r.logger.With("scenario", s.Name)),
		sim.WithRunIDGenerator(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	report, err := simulation.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	return &Result{
		Scenario: s,
		Report:   report,
		Failures: Check(s.Assertions, report),
	}, nil
}
