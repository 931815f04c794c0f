// Package trace records the timestamps produced by every clock in a
// simulation run and checks them against the HLC invariants.
//
// A Recorder is shared by all nodes of a run. Each call to Record is one
// clock output (tick, send or update) and is stamped with a global
// recording sequence plus a per-node sequence. The global sequence reflects
// the order the recorder saw events, which across nodes is arbitrary; only
// the per-node sequence and the HLC timestamps carry meaning.
package trace

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/hlcsim/internal/canonical"
	"github.com/roach88/hlcsim/internal/hlc"
)

// Kind names the clock operation behind an event.
type Kind string

const (
	// KindTick is a local event (Clock.Tick).
	KindTick Kind = "tick"
	// KindSend is the tick that stamps an outgoing envelope.
	KindSend Kind = "send"
	// KindUpdate is the clock update applied for a received envelope.
	KindUpdate Kind = "update"
	// KindReceive marks an envelope leaving the inbox. It is logged, not
	// recorded, because it does not produce a local timestamp.
	KindReceive Kind = "receive"
)

// ParseKind converts a string into a recorded Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTick, KindSend, KindUpdate:
		return k, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Event is a single clock output.
type Event struct {
	Seq        int64          `json:"seq"`
	ID         string         `json:"id"`
	NodeID     string         `json:"node_id"`
	NodeSeq    int64          `json:"node_seq"`
	Kind       Kind           `json:"kind"`
	Timestamp  hlc.Timestamp  `json:"timestamp"`
	Prev       hlc.Timestamp  `json:"prev"`
	Remote     *hlc.Timestamp `json:"remote,omitempty"`
	Peer       string         `json:"peer,omitempty"`
	EnvelopeID string         `json:"envelope_id,omitempty"`
}

// Recorder collects events from concurrently running nodes.
//
// Thread-safety: all methods are safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	runID   string
	seq     int64
	events  []Event
	perNode map[string]int64
}

// NewRecorder creates an empty recorder for runID.
func NewRecorder(runID string) *Recorder {
	return &Recorder{
		runID:   runID,
		events:  make([]Event, 0, 64),
		perNode: make(map[string]int64),
	}
}

// RunID returns the run this recorder belongs to.
func (r *Recorder) RunID() string {
	return r.runID
}

// Record appends e, assigning Seq, NodeSeq and ID. The stored copy is
// returned.
func (r *Recorder) Record(e Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e.Seq = r.seq
	e.NodeSeq = r.perNode[e.NodeID]

	id, err := canonical.EventID(r.runID, e.NodeID, e.NodeSeq, string(e.Kind), e.Timestamp.Physical, e.Timestamp.Logical)
	if err != nil {
		r.seq--
		return Event{}, fmt.Errorf("record %s event for %s: %w", e.Kind, e.NodeID, err)
	}
	e.ID = id

	r.perNode[e.NodeID]++
	r.events = append(r.events, e)
	return e, nil
}

// Events returns a copy of all events in recording order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// ByNode groups events per node, each slice in NodeSeq order.
func ByNode(events []Event) map[string][]Event {
	out := make(map[string][]Event)
	for _, e := range events {
		out[e.NodeID] = append(out[e.NodeID], e)
	}
	for _, list := range out {
		slices.SortFunc(list, func(a, b Event) int {
			return compareInt64(a.NodeSeq, b.NodeSeq)
		})
	}
	return out
}

// ForNode returns nodeID's events in NodeSeq order.
func ForNode(events []Event, nodeID string) []Event {
	return ByNode(events)[nodeID]
}

// Sort returns events in HLC total order: (physical, logical), then node
// ID, then per-node sequence.
func Sort(events []Event) []Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b Event) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return compareInt64(a.NodeSeq, b.NodeSeq)
	})
	return out
}

// Digest fingerprints a trace. Events are hashed per node in NodeSeq
// order, so the result does not depend on the recording sequence. Any
// change to a stored event's identity, timestamps or envelope changes it.
func Digest(events []Event) (string, error) {
	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b Event) int {
		if c := strings.Compare(a.NodeID, b.NodeID); c != 0 {
			return c
		}
		return compareInt64(a.NodeSeq, b.NodeSeq)
	})

	list := make([]any, len(ordered))
	for i, e := range ordered {
		m := map[string]any{
			"id":            e.ID,
			"node_id":       e.NodeID,
			"node_seq":      e.NodeSeq,
			"kind":          string(e.Kind),
			"physical":      e.Timestamp.Physical,
			"logical":       e.Timestamp.Logical,
			"prev_physical": e.Prev.Physical,
			"prev_logical":  e.Prev.Logical,
			"peer":          e.Peer,
			"envelope":      e.EnvelopeID,
		}
		if e.Remote != nil {
			m["remote"] = e.Remote.String()
		}
		list[i] = m
	}

	digest, err := canonical.Digest(list)
	if err != nil {
		return "", fmt.Errorf("trace digest: %w", err)
	}
	return digest, nil
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
