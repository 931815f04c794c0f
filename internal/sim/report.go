package sim

import (
	"slices"
	"strings"

	"github.com/roach88/hlcsim/internal/hlc"
	"github.com/roach88/hlcsim/internal/node"
	"github.com/roach88/hlcsim/internal/trace"
)

// Node statuses in a Report.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusFailed  = "failed"
)

// NodeResult summarizes one node after the run.
type NodeResult struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Final    hlc.Timestamp `json:"final"`
	Events   int           `json:"events"`
	Received int           `json:"received"`
	Error    string        `json:"error,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	RunID string `json:"run_id"`

	// Pass is true when every node finished and the trace holds every
	// invariant. Dropped envelopes do not fail a run; they are listed in
	// Drops and Errors.
	Pass bool `json:"pass"`

	Nodes []NodeResult `json:"nodes"`

	// Trace holds every recorded event in recording order.
	Trace []trace.Event `json:"trace"`

	// Digest fingerprints Trace; see trace.Digest.
	Digest string `json:"digest"`

	Violations    []trace.Violation   `json:"violations,omitempty"`
	Errors        []*Error            `json:"errors,omitempty"`
	Drops         []node.Drop         `json:"drops,omitempty"`
	DriftWarnings []node.DriftWarning `json:"drift_warnings,omitempty"`

	// Undelivered counts envelopes left unread in inboxes at the end.
	Undelivered int `json:"undelivered"`
}

func (r *Report) addNode(n *node.Node, err error) {
	res := NodeResult{
		ID:       n.ID(),
		Status:   StatusOK,
		Final:    n.Now(),
		Received: n.Received(),
	}
	for _, e := range r.Trace {
		if e.NodeID == res.ID {
			res.Events++
		}
	}

	if err != nil {
		coded := classify(res.ID, err)
		res.Error = coded.Error()
		res.Status = StatusFailed
		if coded.Code == ErrCodeNodeTimeout {
			res.Status = StatusTimeout
		}
		r.Errors = append(r.Errors, coded)
	}

	for _, d := range n.Drops() {
		r.Drops = append(r.Drops, d)
		r.Errors = append(r.Errors, &Error{
			Code:    ErrCodeBusDelivery,
			Message: "envelope " + d.EnvelopeID + " to " + d.To + " dropped: " + d.Error,
			NodeID:  res.ID,
		})
	}
	r.DriftWarnings = append(r.DriftWarnings, n.DriftWarnings()...)

	r.Nodes = append(r.Nodes, res)
	slices.SortFunc(r.Nodes, func(a, b NodeResult) int {
		return strings.Compare(a.ID, b.ID)
	})
}

func (r *Report) failedNodes() int {
	n := 0
	for _, res := range r.Nodes {
		if res.Status != StatusOK {
			n++
		}
	}
	return n
}

// Node returns the result for id.
func (r *Report) Node(id string) (NodeResult, bool) {
	for _, res := range r.Nodes {
		if res.ID == id {
			return res, true
		}
	}
	return NodeResult{}, false
}

// Events returns the trace events of one node in program order.
func (r *Report) Events(nodeID string) []trace.Event {
	return trace.ForNode(r.Trace, nodeID)
}

// ErrorsWithCode filters Errors by code.
func (r *Report) ErrorsWithCode(code ErrorCode) []*Error {
	var out []*Error
	for _, e := range r.Errors {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out
}
