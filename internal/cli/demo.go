package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsim/internal/scenario"
	"github.com/roach88/hlcsim/internal/sim"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Rounds   int
	Delay    time.Duration
	Database string

	// RunIDs allows overriding the run ID generator (for testing).
	RunIDs sim.RunIDGenerator
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a two-node ping-pong on the system clock",
		Long: `Run two nodes that exchange ping and pong envelopes in lockstep,
stamped from the real wall clock. With --delay every envelope is held
for a random time up to the given duration.

Examples:
  hlcsim demo
  hlcsim demo --rounds 10 --delay 5ms --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Rounds, "rounds", 3, "number of ping-pong rounds")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "maximum random delivery delay")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database to store the run")

	return cmd
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Rounds <= 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidScenario,
			fmt.Sprintf("rounds must be positive, got %d", opts.Rounds), nil)
	}
	if opts.Delay < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidScenario,
			fmt.Sprintf("delay must not be negative, got %s", opts.Delay), nil)
	}

	var delay *sim.DelayRange
	if opts.Delay > 0 {
		delay = &sim.DelayRange{Max: opts.Delay}
	}
	cfg := sim.PingPong(opts.Rounds, delay)

	s := scenario.FromConfig("ping-pong", fmt.Sprintf("%d rounds of ping-pong", opts.Rounds), cfg)
	return executeRun(cmd, formatter, opts.Database, opts.RunIDs, s, cfg)
}
