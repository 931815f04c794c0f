package bus

import (
	"context"
	"sync"
)

// Inbox is a node's queue of delivered envelopes.
//
// Any goroutine may deliver into an inbox; only the owning node receives
// from it. A mutex guards the slice, and a buffered signal channel of size
// one wakes a blocked receiver without losing notifications.
//
// A bounded inbox counts both queued envelopes and reservations for
// envelopes still in flight on the bus, so overflow is reported to the
// sender at submit time rather than dropped on arrival.
type Inbox struct {
	owner    string
	capacity int // 0 means unbounded

	mu        sync.Mutex
	envelopes []Envelope
	reserved  int
	closed    bool
	signal    chan struct{}
}

func newInbox(owner string, capacity int) *Inbox {
	return &Inbox{
		owner:     owner,
		capacity:  capacity,
		envelopes: make([]Envelope, 0, 16),
		signal:    make(chan struct{}, 1),
	}
}

// Owner returns the node that reads from this inbox.
func (in *Inbox) Owner() string {
	return in.owner
}

// reserve claims a slot for an envelope that will be delivered later.
func (in *Inbox) reserve() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return ErrClosed
	}
	if in.capacity > 0 && len(in.envelopes)+in.reserved >= in.capacity {
		return ErrInboxFull
	}
	in.reserved++
	return nil
}

// deliver appends env, consuming a reservation made with reserve.
func (in *Inbox) deliver(env Envelope) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.reserved--
	if in.closed {
		return false
	}
	in.envelopes = append(in.envelopes, env)

	select {
	case in.signal <- struct{}{}:
	default:
	}
	return true
}

// TryReceive removes the oldest envelope without blocking.
func (in *Inbox) TryReceive() (Envelope, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.envelopes) == 0 {
		return Envelope{}, false
	}
	env := in.envelopes[0]
	in.envelopes[0] = Envelope{}
	if len(in.envelopes) == 1 {
		in.envelopes = in.envelopes[:0]
	} else {
		in.envelopes = in.envelopes[1:]
	}
	return env, true
}

// Receive blocks until an envelope is available, the inbox is closed and
// empty (ErrClosed), or ctx is done.
func (in *Inbox) Receive(ctx context.Context) (Envelope, error) {
	for {
		if env, ok := in.TryReceive(); ok {
			return env, nil
		}

		in.mu.Lock()
		closed := in.closed && len(in.envelopes) == 0
		in.mu.Unlock()
		if closed {
			return Envelope{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-in.signal:
		}
	}
}

// Drain removes and returns every queued envelope without blocking.
func (in *Inbox) Drain() []Envelope {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]Envelope, len(in.envelopes))
	copy(out, in.envelopes)
	clear(in.envelopes)
	in.envelopes = in.envelopes[:0]
	return out
}

// Len returns the number of queued envelopes.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.envelopes)
}

// close stops further deliveries and wakes any blocked receiver. Queued
// envelopes stay readable.
func (in *Inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return
	}
	in.closed = true
	close(in.signal)
}
