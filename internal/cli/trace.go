package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsim/internal/store"
	"github.com/roach88/hlcsim/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Node     string // optional - filter to one node
	Order    string // hlc or seq
}

// Timeline orders accepted by trace --order.
const (
	OrderHLC = "hlc"
	OrderSeq = "seq"
)

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run      store.RunSummary `json:"run"`
	Node     string           `json:"node,omitempty"`
	Order    string           `json:"order"`
	Timeline []trace.Event    `json:"timeline"`
	Stats    TraceStats       `json:"stats"`
}

// TraceStats counts events by kind.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Ticks       int `json:"ticks"`
	Sends       int `json:"sends"`
	Updates     int `json:"updates"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the stored trace of a run",
		Long: `Show the events of a stored run.

Events are listed in HLC order by default: (physical, logical), then node
ID, then per-node position. --order seq lists them in the order the
recorder saw them, which across nodes follows goroutine scheduling.

Each line is one clock output: the recording sequence, the node, its
per-node position, the event kind and the timestamp. Updates also show the
remote timestamp and the envelope that carried it.

Without --run the stored runs are listed.

Examples:
  hlcsim trace --db ./hlc.db
  hlcsim trace --db ./hlc.db --run 0190c6d2-...
  hlcsim trace --db ./hlc.db --run 0190c6d2-... --order seq
  hlcsim trace --db ./hlc.db --run 0190c6d2-... --node n2 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to show")
	cmd.Flags().StringVar(&opts.Node, "node", "", "filter to one node")
	cmd.Flags().StringVar(&opts.Order, "order", OrderHLC, "event order: hlc or seq")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Order != OrderHLC && opts.Order != OrderSeq {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidFlag,
			fmt.Sprintf("invalid order %q: must be %s or %s", opts.Order, OrderHLC, OrderSeq), nil)
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		return listRuns(ctx, st, formatter)
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeRunNotFound, "run not found: "+opts.RunID, nil)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read run", err)
	}

	events, err := st.ReadEvents(ctx, opts.RunID, opts.Node)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read events", err)
	}

	if opts.Order == OrderHLC {
		events = trace.Sort(events)
	}

	result := TraceResult{
		Run:      run.RunSummary,
		Node:     opts.Node,
		Order:    opts.Order,
		Timeline: events,
		Stats:    traceStats(events),
	}

	if formatter.JSON() {
		return formatter.Success(result, "")
	}
	writeTraceText(formatter.Writer, result)
	return nil
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}
	if formatter.JSON() {
		return formatter.Success(runs, "")
	}

	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return nil
	}
	for _, r := range runs {
		status := "pass"
		if !r.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %-4s  %-20s  nodes %-3d events %d\n", r.ID, status, r.Scenario, r.NodeCount, r.EventCount)
	}
	return nil
}

func traceStats(events []trace.Event) TraceStats {
	stats := TraceStats{TotalEvents: len(events)}
	for _, e := range events {
		switch e.Kind {
		case trace.KindTick:
			stats.Ticks++
		case trace.KindSend:
			stats.Sends++
		case trace.KindUpdate:
			stats.Updates++
		}
	}
	return stats
}

func writeTraceText(w io.Writer, result TraceResult) {
	fmt.Fprintf(w, "Run %s (scenario %s)\n", result.Run.ID, result.Run.Scenario)
	if result.Node != "" {
		fmt.Fprintf(w, "Node: %s\n", result.Node)
	}
	fmt.Fprintf(w, "Order: %s\n", result.Order)
	fmt.Fprintln(w)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}

	for _, e := range result.Timeline {
		line := fmt.Sprintf("[%4d] %-10s #%-3d %-6s %s", e.Seq, e.NodeID, e.NodeSeq, e.Kind, e.Timestamp)
		switch e.Kind {
		case trace.KindSend:
			line += fmt.Sprintf("  -> %s (%s)", e.Peer, e.EnvelopeID)
		case trace.KindUpdate:
			if e.Remote != nil {
				line += fmt.Sprintf("  <- %s from %s (%s)", e.Remote, e.Peer, e.EnvelopeID)
			}
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d (ticks %d, sends %d, updates %d)\n",
		result.Stats.TotalEvents, result.Stats.Ticks, result.Stats.Sends, result.Stats.Updates)
}
