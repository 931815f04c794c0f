package sim

import (
	"fmt"
	"time"

	"github.com/roach88/hlcsim/internal/bus"
	"github.com/roach88/hlcsim/internal/node"
)

// DefaultTimeout bounds a run when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// DefaultStart is the manual clock reading used when Clock.Start is zero.
const DefaultStart = 1

// DefaultRetryBackoff is the first send retry delay when none is set.
const DefaultRetryBackoff = time.Millisecond

// ClockMode selects the physical clock behind every node.
type ClockMode string

const (
	// ClockManual gives each node a ManualClock that only moves when a
	// scripted action pins it. Runs are fully deterministic.
	ClockManual ClockMode = "manual"

	// ClockSystem reads the host wall clock.
	ClockSystem ClockMode = "system"
)

// ClockConfig configures physical clocks.
type ClockConfig struct {
	Mode ClockMode

	// Start is the initial manual reading in milliseconds. Zero means
	// DefaultStart.
	Start int64

	// Skew offsets individual nodes' readings in milliseconds. In manual
	// mode it applies to the start reading and to every pinned At reading.
	Skew map[string]int64
}

// DelayRange bounds the random delivery delay of the bus.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Step is one scripted action for one node.
type Step struct {
	Node   string
	Action node.Action
}

// Config describes a simulation run.
type Config struct {
	// NodeIDs names the nodes. When empty, NodeCount nodes named
	// n1..nN are created.
	NodeIDs   []string
	NodeCount int

	Clock ClockConfig

	// Delay enables random delivery delay and reordering. Nil is FIFO.
	Delay *DelayRange

	// InboxCapacity bounds inboxes. Zero is unbounded.
	InboxCapacity int

	// Codec names the envelope codec: msgpack (default) or cbor.
	Codec string

	SendRetries  int
	RetryBackoff time.Duration

	// MaxDrift flags received timestamps too far ahead. Zero disables it.
	MaxDrift time.Duration

	// Timeout bounds the whole run. Zero means DefaultTimeout.
	Timeout time.Duration

	// Seed drives delivery delays.
	Seed uint64

	// Script lists actions in per-node program order. Steps of different
	// nodes run concurrently.
	Script []Step
}

// Nodes returns the node identifiers of the run.
func (c Config) Nodes() []string {
	if len(c.NodeIDs) > 0 {
		return c.NodeIDs
	}
	ids := make([]string, c.NodeCount)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i+1)
	}
	return ids
}

// ScriptFor returns nodeID's actions in order.
func (c Config) ScriptFor(nodeID string) []node.Action {
	var out []node.Action
	for _, s := range c.Script {
		if s.Node == nodeID {
			out = append(out, s.Action)
		}
	}
	return out
}

// Validate checks the configuration. Errors are *Error with
// ErrCodeInvalidConfig.
func (c Config) Validate() error {
	if len(c.NodeIDs) == 0 && c.NodeCount <= 0 {
		return newConfigError("node_count must be positive (got %d)", c.NodeCount)
	}
	if len(c.NodeIDs) > 0 && c.NodeCount > 0 && c.NodeCount != len(c.NodeIDs) {
		return newConfigError("node_count %d does not match %d named nodes", c.NodeCount, len(c.NodeIDs))
	}

	known := make(map[string]bool)
	for _, id := range c.Nodes() {
		if id == "" {
			return newConfigError("node id must not be empty")
		}
		if known[id] {
			return newConfigError("duplicate node id %q", id)
		}
		known[id] = true
	}

	switch c.Clock.Mode {
	case "", ClockManual, ClockSystem:
	default:
		return newConfigError("unknown clock mode %q (want manual or system)", c.Clock.Mode)
	}
	for id := range c.Clock.Skew {
		if !known[id] {
			return newConfigError("skew for unknown node %q", id)
		}
	}

	if c.Delay != nil {
		if c.Delay.Min < 0 || c.Delay.Max < c.Delay.Min {
			return newConfigError("invalid delay range [%s, %s]", c.Delay.Min, c.Delay.Max)
		}
	}
	if c.InboxCapacity < 0 {
		return newConfigError("inbox_capacity must not be negative")
	}
	if _, err := bus.CodecByName(c.Codec); err != nil {
		return newConfigError("%v", err)
	}
	if c.SendRetries < 0 {
		return newConfigError("send_retries must not be negative")
	}
	if c.RetryBackoff < 0 || c.MaxDrift < 0 || c.Timeout < 0 {
		return newConfigError("durations must not be negative")
	}

	for i, s := range c.Script {
		if !known[s.Node] {
			return newConfigError("script[%d]: unknown node %q", i, s.Node)
		}
		a := s.Action
		switch a.Op {
		case node.OpTick:
		case node.OpSend:
			if !known[a.To] {
				return newConfigError("script[%d]: send to unknown node %q", i, a.To)
			}
		case node.OpReceive:
			if a.Wait < 0 {
				return newConfigError("script[%d]: wait must not be negative", i)
			}
		default:
			return newConfigError("script[%d]: unknown op %q", i, a.Op)
		}
		if a.At != nil && c.clockMode() != ClockManual {
			return newConfigError("script[%d]: at requires the manual clock mode", i)
		}
	}
	return nil
}

func (c Config) clockMode() ClockMode {
	if c.Clock.Mode == "" {
		return ClockManual
	}
	return c.Clock.Mode
}

func (c Config) manualStart() int64 {
	if c.Clock.Start == 0 {
		return DefaultStart
	}
	return c.Clock.Start
}

func (c Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) retryBackoff() time.Duration {
	if c.RetryBackoff == 0 {
		return DefaultRetryBackoff
	}
	return c.RetryBackoff
}
