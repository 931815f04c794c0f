package node

import "fmt"

// Op is a scripted node operation.
type Op string

const (
	// OpTick records a local event.
	OpTick Op = "tick"
	// OpSend ticks and emits an envelope stamped with the result.
	OpSend Op = "send"
	// OpReceive drains the inbox, updating the clock per envelope.
	OpReceive Op = "receive"
)

// ParseOp validates an operation name.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpTick, OpSend, OpReceive:
		return op, nil
	}
	return "", fmt.Errorf("unknown op %q (want tick, send or receive)", s)
}

// Action is one step of a node's script.
type Action struct {
	Op Op

	// To and Payload are used by OpSend.
	To      string
	Payload []byte

	// Wait makes OpReceive block until at least Wait envelopes have been
	// consumed by this action. Zero drains whatever is queued.
	Wait int

	// At pins the node's manual physical clock before the action runs.
	At *int64
}

func (a Action) String() string {
	s := string(a.Op)
	switch a.Op {
	case OpSend:
		s += "->" + a.To
	case OpReceive:
		if a.Wait > 0 {
			s += fmt.Sprintf("(wait=%d)", a.Wait)
		}
	}
	if a.At != nil {
		s += fmt.Sprintf("@%d", *a.At)
	}
	return s
}
