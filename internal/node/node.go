// Package node implements a simulated participant: one HLC clock, one inbox
// and a script of actions supplied by the driver.
//
// A Node is driven by exactly one goroutine. It is the only writer of its
// clock and the only reader of its inbox; other nodes reach it solely by
// submitting envelopes to the bus.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/hlcsim/internal/bus"
	"github.com/roach88/hlcsim/internal/hlc"
	"github.com/roach88/hlcsim/internal/trace"
)

// Submitter is the part of the bus a node sends through.
type Submitter interface {
	Submit(ctx context.Context, env bus.Envelope) error
}

// Config wires a node to its collaborators.
type Config struct {
	ID       string
	Clock    *hlc.Clock
	Inbox    *bus.Inbox
	Bus      Submitter
	Recorder *trace.Recorder

	// Manual is the node's physical clock when it is a ManualClock.
	// Actions with At set require it.
	Manual *hlc.ManualClock

	// Skew is added to every pinned At reading.
	Skew int64

	// SendRetries is how many times a send is retried after ErrInboxFull
	// before the envelope is dropped. RetryBackoff is the first delay; it
	// doubles per attempt.
	SendRetries  int
	RetryBackoff time.Duration

	Logger *slog.Logger
}

// Drop records an envelope abandoned after exhausting retries.
type Drop struct {
	EnvelopeID string `json:"envelope_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

// DriftWarning records a received timestamp beyond the drift bound.
type DriftWarning struct {
	NodeID     string        `json:"node_id"`
	EnvelopeID string        `json:"envelope_id"`
	From       string        `json:"from"`
	Remote     hlc.Timestamp `json:"remote"`
	Message    string        `json:"message"`
}

// Node is a simulated participant.
type Node struct {
	id       string
	clock    *hlc.Clock
	inbox    *bus.Inbox
	bus      Submitter
	recorder *trace.Recorder
	manual   *hlc.ManualClock
	skew     int64
	retries  int
	backoff  time.Duration
	logger   *slog.Logger

	sent int

	mu       sync.Mutex
	received int
	drops    []Drop
	drifts   []DriftWarning
}

// New validates cfg and builds a node.
func New(cfg Config) (*Node, error) {
	switch {
	case cfg.ID == "":
		return nil, fmt.Errorf("node: id is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("node %s: clock is required", cfg.ID)
	case cfg.Inbox == nil:
		return nil, fmt.Errorf("node %s: inbox is required", cfg.ID)
	case cfg.Bus == nil:
		return nil, fmt.Errorf("node %s: bus is required", cfg.ID)
	case cfg.Recorder == nil:
		return nil, fmt.Errorf("node %s: recorder is required", cfg.ID)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Node{
		id:       cfg.ID,
		clock:    cfg.Clock,
		inbox:    cfg.Inbox,
		bus:      cfg.Bus,
		recorder: cfg.Recorder,
		manual:   cfg.Manual,
		skew:     cfg.Skew,
		retries:  cfg.SendRetries,
		backoff:  cfg.RetryBackoff,
		logger:   logger.With("node_id", cfg.ID),
	}, nil
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

// Now returns the node's current timestamp.
func (n *Node) Now() hlc.Timestamp {
	return n.clock.Now()
}

// Run executes actions in order. It stops at the first error, except for
// dropped sends which are recorded and skipped.
func (n *Node) Run(ctx context.Context, actions []Action) error {
	n.logger.Debug("node started", "actions", len(actions))
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("node %s before action %d (%s): %w", n.id, i, a, err)
		}
		if err := n.Apply(ctx, a); err != nil {
			if errors.Is(err, bus.ErrInboxFull) {
				continue
			}
			return fmt.Errorf("node %s action %d (%s): %w", n.id, i, a, err)
		}
	}
	n.logger.Debug("node finished", "timestamp", n.clock.Now().String())
	return nil
}

// Apply executes a single action.
func (n *Node) Apply(ctx context.Context, a Action) error {
	if a.At != nil {
		if n.manual == nil {
			return fmt.Errorf("pinned reading %d needs a manual physical clock", *a.At)
		}
		n.manual.Set(*a.At + n.skew)
	}

	switch a.Op {
	case OpTick:
		_, err := n.Tick()
		return err
	case OpSend:
		_, err := n.Send(ctx, a.To, a.Payload)
		return err
	case OpReceive:
		_, err := n.Receive(ctx, a.Wait)
		return err
	}
	return fmt.Errorf("unknown op %q", a.Op)
}

// Tick records a local event.
func (n *Node) Tick() (hlc.Timestamp, error) {
	prev := n.clock.Now()
	ts := n.clock.Tick()

	if _, err := n.recorder.Record(trace.Event{
		NodeID:    n.id,
		Kind:      trace.KindTick,
		Timestamp: ts,
		Prev:      prev,
	}); err != nil {
		return ts, err
	}
	n.logEvent(trace.KindTick, ts)
	return ts, nil
}

// Send ticks and submits an envelope carrying the new timestamp to `to`.
//
// When the recipient's inbox is full the send is retried with exponential
// backoff. After SendRetries failed retries the envelope is dropped: the
// drop is recorded, logged, and the returned error wraps bus.ErrInboxFull.
func (n *Node) Send(ctx context.Context, to string, payload []byte) (hlc.Timestamp, error) {
	prev := n.clock.Now()
	ts := n.clock.Tick()

	n.sent++
	env := bus.Envelope{
		ID:        fmt.Sprintf("%s-%d", n.id, n.sent),
		From:      n.id,
		To:        to,
		Timestamp: ts,
		Payload:   payload,
	}

	if _, err := n.recorder.Record(trace.Event{
		NodeID:     n.id,
		Kind:       trace.KindSend,
		Timestamp:  ts,
		Prev:       prev,
		Peer:       to,
		EnvelopeID: env.ID,
	}); err != nil {
		return ts, err
	}
	n.logEvent(trace.KindSend, ts, "to", to, "envelope", env.ID)

	delay := n.backoff
	for attempt := 1; ; attempt++ {
		err := n.bus.Submit(ctx, env)
		if err == nil {
			return ts, nil
		}
		if !errors.Is(err, bus.ErrInboxFull) {
			return ts, err
		}
		if attempt > n.retries {
			n.mu.Lock()
			n.drops = append(n.drops, Drop{
				EnvelopeID: env.ID,
				From:       n.id,
				To:         to,
				Attempts:   attempt,
				Error:      err.Error(),
			})
			n.mu.Unlock()
			n.logger.Error("envelope dropped", "envelope", env.ID, "to", to, "attempts", attempt, "error", err)
			return ts, err
		}

		n.logger.Warn("inbox full, retrying", "envelope", env.ID, "to", to, "attempt", attempt, "backoff", delay)
		select {
		case <-ctx.Done():
			return ts, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Receive consumes every queued envelope, updating the clock for each.
// With wait > 0 it then blocks until at least wait envelopes were consumed
// by this call or ctx is done. It returns the number consumed.
func (n *Node) Receive(ctx context.Context, wait int) (int, error) {
	consumed := 0
	for {
		for _, env := range n.inbox.Drain() {
			if _, err := n.handle(env); err != nil {
				return consumed, err
			}
			consumed++
		}
		if consumed >= wait {
			return consumed, nil
		}

		env, err := n.inbox.Receive(ctx)
		if err != nil {
			return consumed, fmt.Errorf("waiting for envelope %d of %d: %w", consumed+1, wait, err)
		}
		if _, err := n.handle(env); err != nil {
			return consumed, err
		}
		consumed++
	}
}

// handle applies the update rule for one envelope.
func (n *Node) handle(env bus.Envelope) (hlc.Timestamp, error) {
	n.logEvent(trace.KindReceive, env.Timestamp, "from", env.From, "envelope", env.ID)

	prev := n.clock.Now()
	ts, driftErr := n.clock.UpdateChecked(env.Timestamp)
	if driftErr != nil {
		n.mu.Lock()
		n.drifts = append(n.drifts, DriftWarning{
			NodeID:     n.id,
			EnvelopeID: env.ID,
			From:       env.From,
			Remote:     env.Timestamp,
			Message:    driftErr.Error(),
		})
		n.mu.Unlock()
		n.logger.Warn("clock drift", "envelope", env.ID, "from", env.From, "error", driftErr)
	}

	remote := env.Timestamp
	if _, err := n.recorder.Record(trace.Event{
		NodeID:     n.id,
		Kind:       trace.KindUpdate,
		Timestamp:  ts,
		Prev:       prev,
		Remote:     &remote,
		Peer:       env.From,
		EnvelopeID: env.ID,
	}); err != nil {
		return ts, err
	}

	n.mu.Lock()
	n.received++
	n.mu.Unlock()

	n.logEvent(trace.KindUpdate, ts, "from", env.From, "envelope", env.ID)
	return ts, nil
}

// Received returns how many envelopes the node has consumed.
func (n *Node) Received() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.received
}

// Drops returns envelopes abandoned after backpressure.
func (n *Node) Drops() []Drop {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Drop(nil), n.drops...)
}

// DriftWarnings returns envelopes whose timestamps exceeded the drift bound.
func (n *Node) DriftWarnings() []DriftWarning {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]DriftWarning(nil), n.drifts...)
}

func (n *Node) logEvent(kind trace.Kind, ts hlc.Timestamp, attrs ...any) {
	args := append([]any{"event_kind", string(kind), "timestamp", ts.String()}, attrs...)
	n.logger.Info("hlc event", args...)
}
