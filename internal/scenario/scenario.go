package scenario

import (
	"fmt"
	"time"

	"github.com/roach88/hlcsim/internal/node"
	"github.com/roach88/hlcsim/internal/sim"
)

// Scenario is a simulation described in a YAML or CUE file.
//
// Durations are written as Go duration strings ("5ms", "2s") and parsed
// during validation, so both decoders can fill the same struct.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Nodes names the nodes. Alternatively NodeCount creates n1..nN.
	Nodes     []string `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	NodeCount int      `yaml:"node_count,omitempty" json:"node_count,omitempty"`

	Clock ClockSpec `yaml:"clock,omitempty" json:"clock,omitempty"`
	Bus   BusSpec   `yaml:"bus,omitempty" json:"bus,omitempty"`

	SendRetries  int    `yaml:"send_retries,omitempty" json:"send_retries,omitempty"`
	RetryBackoff string `yaml:"retry_backoff,omitempty" json:"retry_backoff,omitempty"`
	MaxDrift     string `yaml:"max_drift,omitempty" json:"max_drift,omitempty"`
	Timeout      string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RunID fixes the run identifier for deterministic output. When empty
	// a UUIDv7 is generated.
	RunID string `yaml:"run_id,omitempty" json:"run_id,omitempty"`

	// Script lists the node actions in per-node program order.
	Script []Step `yaml:"script" json:"script"`

	// Assertions are checked against the run report.
	Assertions []Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// ClockSpec configures physical clocks.
type ClockSpec struct {
	// Mode is "manual" (default) or "system".
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`

	// Start is the initial manual reading. Defaults to 1.
	Start int64 `yaml:"start,omitempty" json:"start,omitempty"`

	// Skew offsets individual nodes in milliseconds. In manual mode it
	// shifts the start reading and every step's at reading.
	Skew map[string]int64 `yaml:"skew,omitempty" json:"skew,omitempty"`
}

// BusSpec configures delivery.
type BusSpec struct {
	Delay         *DelaySpec `yaml:"delay,omitempty" json:"delay,omitempty"`
	InboxCapacity int        `yaml:"inbox_capacity,omitempty" json:"inbox_capacity,omitempty"`
	Codec         string     `yaml:"codec,omitempty" json:"codec,omitempty"`
	Seed          uint64     `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// DelaySpec bounds random delivery delay.
type DelaySpec struct {
	Min string `yaml:"min" json:"min"`
	Max string `yaml:"max" json:"max"`
}

// Step is one scripted action.
type Step struct {
	Node    string `yaml:"node" json:"node"`
	Op      string `yaml:"op" json:"op"`
	To      string `yaml:"to,omitempty" json:"to,omitempty"`
	Payload string `yaml:"payload,omitempty" json:"payload,omitempty"`
	Wait    int    `yaml:"wait,omitempty" json:"wait,omitempty"`
	At      *int64 `yaml:"at,omitempty" json:"at,omitempty"`
}

// DefaultStart is the manual clock reading used when none is given.
const DefaultStart = sim.DefaultStart

// Config converts the scenario into a validated simulation config.
func (s *Scenario) Config() (sim.Config, error) {
	cfg := sim.Config{
		NodeIDs:       s.Nodes,
		NodeCount:     s.NodeCount,
		InboxCapacity: s.Bus.InboxCapacity,
		Codec:         s.Bus.Codec,
		Seed:          s.Bus.Seed,
		SendRetries:   s.SendRetries,
		Clock: sim.ClockConfig{
			Mode:  sim.ClockMode(s.Clock.Mode),
			Start: s.Clock.Start,
			Skew:  s.Clock.Skew,
		},
	}
	if cfg.Clock.Start == 0 {
		cfg.Clock.Start = DefaultStart
	}

	var err error
	if cfg.RetryBackoff, err = parseDuration("retry_backoff", s.RetryBackoff); err != nil {
		return sim.Config{}, err
	}
	if cfg.MaxDrift, err = parseDuration("max_drift", s.MaxDrift); err != nil {
		return sim.Config{}, err
	}
	if cfg.Timeout, err = parseDuration("timeout", s.Timeout); err != nil {
		return sim.Config{}, err
	}
	if s.Bus.Delay != nil {
		lo, err := parseDuration("bus.delay.min", s.Bus.Delay.Min)
		if err != nil {
			return sim.Config{}, err
		}
		hi, err := parseDuration("bus.delay.max", s.Bus.Delay.Max)
		if err != nil {
			return sim.Config{}, err
		}
		cfg.Delay = &sim.DelayRange{Min: lo, Max: hi}
	}

	for i, st := range s.Script {
		op, err := node.ParseOp(st.Op)
		if err != nil {
			return sim.Config{}, fmt.Errorf("script[%d]: %w", i, err)
		}
		a := node.Action{Op: op, To: st.To, Wait: st.Wait, At: st.At}
		if st.Payload != "" {
			a.Payload = []byte(st.Payload)
		}
		cfg.Script = append(cfg.Script, sim.Step{Node: st.Node, Action: a})
	}

	if err := cfg.Validate(); err != nil {
		return sim.Config{}, err
	}
	return cfg, nil
}

// FromConfig renders a simulation config as a scenario, the inverse of
// Config for everything a scenario can express.
func FromConfig(name, description string, cfg sim.Config) *Scenario {
	s := &Scenario{
		Name:        name,
		Description: description,
		Nodes:       cfg.NodeIDs,
		NodeCount:   cfg.NodeCount,
		Clock: ClockSpec{
			Mode:  string(cfg.Clock.Mode),
			Start: cfg.Clock.Start,
			Skew:  cfg.Clock.Skew,
		},
		Bus: BusSpec{
			InboxCapacity: cfg.InboxCapacity,
			Codec:         cfg.Codec,
			Seed:          cfg.Seed,
		},
		SendRetries:  cfg.SendRetries,
		RetryBackoff: formatDuration(cfg.RetryBackoff),
		MaxDrift:     formatDuration(cfg.MaxDrift),
		Timeout:      formatDuration(cfg.Timeout),
	}
	if cfg.Delay != nil {
		s.Bus.Delay = &DelaySpec{Min: cfg.Delay.Min.String(), Max: cfg.Delay.Max.String()}
	}
	for _, st := range cfg.Script {
		s.Script = append(s.Script, Step{
			Node:    st.Node,
			Op:      string(st.Action.Op),
			To:      st.Action.To,
			Payload: string(st.Action.Payload),
			Wait:    st.Action.Wait,
			At:      st.Action.At,
		})
	}
	return s
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
