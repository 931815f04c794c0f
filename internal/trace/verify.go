package trace

import (
	"fmt"
	"slices"
)

// Rule names for violations.
const (
	RuleMonotonic = "monotonic"
	RuleChain     = "chain"
	RuleCausal    = "causal"
	RuleDelivery  = "delivery"
)

// Violation describes one broken invariant.
type Violation struct {
	Rule    string `json:"rule"`
	NodeID  string `json:"node_id"`
	EventID string `json:"event_id,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s violation on %s: %s", v.Rule, v.NodeID, v.Message)
}

// Verify checks a run's events against the clock invariants:
//
//   - monotonic: each node's timestamps strictly increase in NodeSeq order
//   - chain: each event's Prev equals the node's previous output, and a
//     node's first event starts from the zero timestamp
//   - causal: an update is after both its Prev and the remote timestamp
//   - delivery: an update's remote timestamp matches the stamping send
//     event and the update follows it; no envelope is consumed twice
//
// The result is empty when every invariant holds. Violations are ordered by
// node, then by position.
func Verify(events []Event) []Violation {
	var out []Violation

	sends := make(map[string]Event)
	for _, e := range events {
		if e.Kind == KindSend && e.EnvelopeID != "" {
			sends[e.EnvelopeID] = e
		}
	}

	consumed := make(map[string]Event)

	byNode := ByNode(events)
	nodes := make([]string, 0, len(byNode))
	for id := range byNode {
		nodes = append(nodes, id)
	}
	slices.Sort(nodes)

	for _, id := range nodes {
		list := byNode[id]
		for i, e := range list {
			if i == 0 && !e.Prev.IsZero() {
				out = append(out, Violation{
					Rule:    RuleChain,
					NodeID:  id,
					EventID: e.ID,
					Message: fmt.Sprintf("first event %d observed %s before any output",
						e.NodeSeq, e.Prev.WithNode("")),
				})
			}
			if i > 0 {
				prev := list[i-1]
				if !e.Timestamp.After(prev.Timestamp) {
					out = append(out, Violation{
						Rule:    RuleMonotonic,
						NodeID:  id,
						EventID: e.ID,
						Message: fmt.Sprintf("event %d (%s) at %s is not after event %d at %s",
							e.NodeSeq, e.Kind, e.Timestamp, prev.NodeSeq, prev.Timestamp),
					})
				}
				if !e.Prev.Equal(prev.Timestamp) {
					out = append(out, Violation{
						Rule:    RuleChain,
						NodeID:  id,
						EventID: e.ID,
						Message: fmt.Sprintf("event %d observed %s but the previous output was %s",
							e.NodeSeq, e.Prev, prev.Timestamp),
					})
				}
			}

			if e.Kind != KindUpdate {
				continue
			}
			if !e.Timestamp.After(e.Prev) {
				out = append(out, Violation{
					Rule:    RuleCausal,
					NodeID:  id,
					EventID: e.ID,
					Message: fmt.Sprintf("update %d at %s is not after local %s", e.NodeSeq, e.Timestamp, e.Prev),
				})
			}
			if e.Remote == nil {
				out = append(out, Violation{
					Rule:    RuleCausal,
					NodeID:  id,
					EventID: e.ID,
					Message: fmt.Sprintf("update %d has no remote timestamp", e.NodeSeq),
				})
				continue
			}
			if !e.Timestamp.After(*e.Remote) {
				out = append(out, Violation{
					Rule:    RuleCausal,
					NodeID:  id,
					EventID: e.ID,
					Message: fmt.Sprintf("update %d at %s is not after remote %s", e.NodeSeq, e.Timestamp, *e.Remote),
				})
			}

			if e.EnvelopeID == "" {
				continue
			}
			if first, dup := consumed[e.EnvelopeID]; dup {
				out = append(out, Violation{
					Rule:    RuleDelivery,
					NodeID:  id,
					EventID: e.ID,
					Message: fmt.Sprintf("envelope %s consumed again (first by %s event %d)",
						e.EnvelopeID, first.NodeID, first.NodeSeq),
				})
				continue
			}
			consumed[e.EnvelopeID] = e

			send, ok := sends[e.EnvelopeID]
			if !ok {
				out = append(out, Violation{
					Rule:    RuleDelivery,
					NodeID:  id,
					EventID: e.ID,
					Message: fmt.Sprintf("envelope %s has no matching send", e.EnvelopeID),
				})
				continue
			}
			if !send.Timestamp.Equal(*e.Remote) {
				out = append(out, Violation{
					Rule:    RuleDelivery,
					NodeID:  id,
					EventID: e.ID,
					Message: fmt.Sprintf("envelope %s carried %s but was sent at %s",
						e.EnvelopeID, *e.Remote, send.Timestamp),
				})
			}
		}
	}

	return out
}

// HappensBefore reports whether a is causally ordered before b by their
// timestamps. It is the check a reader applies to two related events.
func HappensBefore(a, b Event) bool {
	return a.Timestamp.Before(b.Timestamp)
}
