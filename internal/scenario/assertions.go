package scenario

import (
	"fmt"
	"strings"

	"github.com/roach88/hlcsim/internal/sim"
	"github.com/roach88/hlcsim/internal/trace"
)

// Assertion type constants.
const (
	// AssertPass requires the run to pass (no violations, no failed node).
	AssertPass = "pass"
	// AssertMonotonic requires no monotonic or chain violation.
	AssertMonotonic = "monotonic"
	// AssertCausal requires no causal or delivery violation.
	AssertCausal = "causal"
	// AssertTimestamp pins one event's (physical, logical).
	AssertTimestamp = "timestamp"
	// AssertEventCount counts a node's events of one kind.
	AssertEventCount = "event_count"
	// AssertHappensBefore requires one event to precede another.
	AssertHappensBefore = "happens_before"
	// AssertUndelivered counts envelopes left unread.
	AssertUndelivered = "undelivered"
	// AssertError requires a node to end with the given error code.
	AssertError = "error"
)

// Assertion validates the run report.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type" json:"type"`

	// Node and Index select an event by per-node position, zero-based
	// (timestamp, event_count, error).
	Node  string `yaml:"node,omitempty" json:"node,omitempty"`
	Index int    `yaml:"index,omitempty" json:"index,omitempty"`

	// Physical and Logical are the expected timestamp (timestamp).
	Physical int64 `yaml:"physical,omitempty" json:"physical,omitempty"`
	Logical  int64 `yaml:"logical,omitempty" json:"logical,omitempty"`

	// Kind filters events (event_count).
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Count is the expected number (event_count, undelivered).
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// From and To select the events of happens_before.
	From *EventRef `yaml:"from,omitempty" json:"from,omitempty"`
	To   *EventRef `yaml:"to,omitempty" json:"to,omitempty"`

	// Code is the expected error code (error).
	Code string `yaml:"code,omitempty" json:"code,omitempty"`
}

// EventRef selects a node's event by zero-based position.
type EventRef struct {
	Node  string `yaml:"node" json:"node"`
	Index int    `yaml:"index" json:"index"`
}

func (r EventRef) String() string {
	return fmt.Sprintf("%s[%d]", r.Node, r.Index)
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s", e.Actual)
	return buf.String()
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPass, AssertMonotonic, AssertCausal:
	case AssertTimestamp:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for timestamp", index)
		}
		if a.Index < 0 {
			return fmt.Errorf("assertions[%d]: index must be non-negative", index)
		}
	case AssertEventCount:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for event_count", index)
		}
		if a.Kind != "" {
			if _, err := trace.ParseKind(a.Kind); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertHappensBefore:
		if a.From == nil || a.To == nil {
			return fmt.Errorf("assertions[%d]: from and to are required for happens_before", index)
		}
	case AssertUndelivered:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertError:
		if a.Node == "" || a.Code == "" {
			return fmt.Errorf("assertions[%d]: node and code are required for error", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Check evaluates every assertion and returns the failures.
func Check(assertions []Assertion, report *sim.Report) []error {
	var errs []error
	for _, a := range assertions {
		if err := check(a, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func check(a Assertion, r *sim.Report) error {
	switch a.Type {
	case AssertPass:
		if !r.Pass {
			return &AssertionError{
				Type:     a.Type,
				Expected: "run passes",
				Actual:   fmt.Sprintf("%d violations, %d errors", len(r.Violations), len(r.Errors)),
			}
		}
	case AssertMonotonic:
		return checkRules(a.Type, r.Violations, trace.RuleMonotonic, trace.RuleChain)
	case AssertCausal:
		return checkRules(a.Type, r.Violations, trace.RuleCausal, trace.RuleDelivery)
	case AssertTimestamp:
		e, err := eventAt(r, EventRef{Node: a.Node, Index: a.Index})
		if err != nil {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("event %s[%d]", a.Node, a.Index), Actual: err.Error()}
		}
		if e.Timestamp.Physical != a.Physical || e.Timestamp.Logical != a.Logical {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s[%d] at %d.%d", a.Node, a.Index, a.Physical, a.Logical),
				Actual:   fmt.Sprintf("%s at %d.%d", e.Kind, e.Timestamp.Physical, e.Timestamp.Logical),
			}
		}
	case AssertEventCount:
		n := 0
		for _, e := range r.Events(a.Node) {
			if a.Kind == "" || string(e.Kind) == a.Kind {
				n++
			}
		}
		if n != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d %s events on %s", a.Count, kindOrAll(a.Kind), a.Node),
				Actual:   fmt.Sprintf("%d", n),
			}
		}
	case AssertHappensBefore:
		from, err := eventAt(r, *a.From)
		if err != nil {
			return &AssertionError{Type: a.Type, Expected: "event " + a.From.String(), Actual: err.Error()}
		}
		to, err := eventAt(r, *a.To)
		if err != nil {
			return &AssertionError{Type: a.Type, Expected: "event " + a.To.String(), Actual: err.Error()}
		}
		if !trace.HappensBefore(from, to) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s before %s", a.From, a.To),
				Actual:   fmt.Sprintf("%s vs %s", from.Timestamp, to.Timestamp),
			}
		}
	case AssertUndelivered:
		if r.Undelivered != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d undelivered envelopes", a.Count),
				Actual:   fmt.Sprintf("%d", r.Undelivered),
			}
		}
	case AssertError:
		for _, e := range r.Errors {
			if e.NodeID == a.Node && string(e.Code) == a.Code {
				return nil
			}
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s on %s", a.Code, a.Node),
			Actual:   fmt.Sprintf("%d errors, none matching", len(r.Errors)),
		}
	}
	return nil
}

func checkRules(typ string, violations []trace.Violation, rules ...string) error {
	var msgs []string
	for _, v := range violations {
		for _, rule := range rules {
			if v.Rule == rule {
				msgs = append(msgs, v.String())
			}
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: "no " + strings.Join(rules, "/") + " violations",
		Actual:   strings.Join(msgs, "; "),
	}
}

func eventAt(r *sim.Report, ref EventRef) (trace.Event, error) {
	events := r.Events(ref.Node)
	if ref.Index < 0 || ref.Index >= len(events) {
		return trace.Event{}, fmt.Errorf("%s has %d events", ref.Node, len(events))
	}
	return events[ref.Index], nil
}

func kindOrAll(kind string) string {
	if kind == "" {
		return "recorded"
	}
	return kind
}
