// Package sim drives a Hybrid Logical Clock simulation.
//
// A Simulation builds one node per configured ID, wires them to a shared
// bus, runs each node's script on its own goroutine and joins them. The
// resulting Report carries the full trace plus the outcome of verifying it
// against the clock invariants.
//
// Failures are isolated per node. A node that misses the run deadline is
// reported with NODE_TIMEOUT while the others keep their results; only an
// unusable physical clock stops the run before any node starts.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/hlcsim/internal/bus"
	"github.com/roach88/hlcsim/internal/hlc"
	"github.com/roach88/hlcsim/internal/node"
	"github.com/roach88/hlcsim/internal/trace"
)

// Simulation runs one configured scenario.
type Simulation struct {
	cfg    Config
	logger *slog.Logger
	runIDs RunIDGenerator

	// physical overrides the physical clock per node. Tests use it to
	// inject broken sources.
	physical func(nodeID string) hlc.PhysicalClock
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger passed to the bus and every node.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) {
		s.logger = l
	}
}

// WithRunIDGenerator replaces the UUIDv7 run ID generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(s *Simulation) {
		s.runIDs = g
	}
}

// WithPhysicalClocks replaces the physical clock factory. f is called
// once per node at startup.
func WithPhysicalClocks(f func(nodeID string) hlc.PhysicalClock) Option {
	return func(s *Simulation) {
		s.physical = f
	}
}

// New validates cfg and returns a runnable simulation.
func New(cfg Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		runIDs: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the validated configuration.
func (s *Simulation) Config() Config {
	return s.cfg
}

type participant struct {
	node   *node.Node
	script []node.Action
}

// Run executes the scenario and returns its report.
//
// The error is non-nil only when the run could not start, such as an
// invalid physical reading (ErrCodeInvalidPhysicalTime). Node failures are
// reported in Report.Errors and make Report.Pass false.
func (s *Simulation) Run(ctx context.Context) (*Report, error) {
	runID := s.runIDs.Generate()
	logger := s.logger.With("run_id", runID)
	recorder := trace.NewRecorder(runID)

	codec, err := bus.CodecByName(s.cfg.Codec)
	if err != nil {
		return nil, newConfigError("%v", err)
	}
	busOpts := []bus.Option{
		bus.WithCodec(codec),
		bus.WithInboxCapacity(s.cfg.InboxCapacity),
		bus.WithSeed(s.cfg.Seed),
		bus.WithLogger(logger),
	}
	if s.cfg.Delay != nil {
		busOpts = append(busOpts, bus.WithDelay(s.cfg.Delay.Min, s.cfg.Delay.Max))
	}
	b := bus.New(busOpts...)

	// Build every clock before starting any node, so a bad physical
	// source halts the run with nothing in flight.
	ids := s.cfg.Nodes()
	participants := make([]participant, 0, len(ids))
	for _, id := range ids {
		physical, manual := s.physicalClock(id)

		var clockOpts []hlc.Option
		if s.cfg.MaxDrift > 0 {
			clockOpts = append(clockOpts, hlc.WithMaxDrift(s.cfg.MaxDrift))
		}
		clock, err := hlc.NewClock(id, physical, clockOpts...)
		if err != nil {
			b.Close()
			logger.Error("invalid physical time", "node_id", id, "error", err)
			return nil, newPhysicalTimeError(id, err)
		}

		inbox, err := b.Register(id)
		if err != nil {
			b.Close()
			return nil, newConfigError("register %s: %v", id, err)
		}

		n, err := node.New(node.Config{
			ID:           id,
			Clock:        clock,
			Inbox:        inbox,
			Bus:          b,
			Recorder:     recorder,
			Manual:       manual,
			Skew:         s.skew(id),
			SendRetries:  s.cfg.SendRetries,
			RetryBackoff: s.cfg.retryBackoff(),
			Logger:       logger,
		})
		if err != nil {
			b.Close()
			return nil, newConfigError("%v", err)
		}
		participants = append(participants, participant{node: n, script: s.cfg.ScriptFor(id)})
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	logger.Info("run started", "nodes", len(participants), "steps", len(s.cfg.Script), "delayed", b.Delayed())

	errs := make([]error, len(participants))
	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.node.Run(runCtx, p.script)
		}()
	}
	wg.Wait()
	cancel()

	b.Close()

	report := &Report{
		RunID:       runID,
		Trace:       recorder.Events(),
		Undelivered: b.Undelivered(),
	}
	for i, p := range participants {
		report.addNode(p.node, errs[i])
	}
	report.Violations = trace.Verify(report.Trace)
	if report.Digest, err = trace.Digest(report.Trace); err != nil {
		logger.Error("trace digest failed", "error", err)
	}
	report.Pass = len(report.Violations) == 0 && report.failedNodes() == 0

	logger.Info("run finished",
		"pass", report.Pass,
		"events", len(report.Trace),
		"violations", len(report.Violations),
		"errors", len(report.Errors),
		"undelivered", report.Undelivered,
	)
	return report, nil
}

// physicalClock builds the physical source for nodeID. The second result
// is non-nil when scripted actions may pin the reading.
func (s *Simulation) physicalClock(nodeID string) (hlc.PhysicalClock, *hlc.ManualClock) {
	if s.physical != nil {
		pc := s.physical(nodeID)
		manual, _ := pc.(*hlc.ManualClock)
		return pc, manual
	}

	skew := s.cfg.Clock.Skew[nodeID]
	if s.cfg.clockMode() == ClockSystem {
		if skew == 0 {
			return hlc.SystemClock{}, nil
		}
		return hlc.SkewedClock{Base: hlc.SystemClock{}, Offset: skew}, nil
	}
	manual := hlc.NewManualClock(s.cfg.manualStart() + skew)
	return manual, manual
}

// skew is the offset applied to nodeID's pinned readings. Custom physical
// clocks carry their own offsets.
func (s *Simulation) skew(nodeID string) int64 {
	if s.physical != nil {
		return 0
	}
	return s.cfg.Clock.Skew[nodeID]
}

// classify converts a node's terminal error into a coded error.
func classify(nodeID string, err error) *Error {
	var de *bus.DeliveryError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{
			Code:    ErrCodeNodeTimeout,
			Message: fmt.Sprintf("script did not complete: %v", err),
			NodeID:  nodeID,
			Err:     err,
		}
	case errors.As(err, &de):
		return &Error{
			Code:    ErrCodeBusDelivery,
			Message: err.Error(),
			NodeID:  nodeID,
			Err:     err,
		}
	}
	return &Error{
		Code:    ErrCodeNodeFailure,
		Message: err.Error(),
		NodeID:  nodeID,
		Err:     err,
	}
}
