// Package bus is the in-process transport between simulated nodes.
//
// Nodes register to get an Inbox; senders Submit envelopes addressed to a
// registered node. Two delivery policies exist:
//
//   - FIFO (default): the envelope is appended to the recipient's inbox
//     before Submit returns, so order is FIFO per sender and recipient.
//   - Delay: each envelope is delivered after a random delay drawn from
//     [min, max]. Envelopes overtake each other, which exercises the clock
//     under adversarial delivery order.
//
// Inboxes may be bounded. A full inbox rejects the submission with
// ErrInboxFull; deciding whether to retry or drop is the sender's job. An
// accepted envelope is delivered exactly once.
package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrInboxFull is returned by Submit when the recipient's bounded inbox
	// has no free slot.
	ErrInboxFull = errors.New("inbox full")

	// ErrUnknownNode is returned when an envelope is addressed to a node
	// that never registered.
	ErrUnknownNode = errors.New("unknown node")

	// ErrClosed is returned after the bus or an inbox has been closed.
	ErrClosed = errors.New("bus closed")
)

// DeliveryError reports a submission the bus refused.
type DeliveryError struct {
	EnvelopeID string
	From       string
	To         string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s from %s to %s: %v", e.EnvelopeID, e.From, e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Bus routes envelopes to registered inboxes.
//
// Thread-safety: all methods are safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	inboxes  map[string]*Inbox
	closed   bool
	inflight sync.WaitGroup
	pending  atomic.Int64

	codec    Codec
	capacity int
	delayMin time.Duration
	delayMax time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithDelay switches to delayed delivery with per-envelope delays drawn
// uniformly from [lo, hi].
func WithDelay(lo, hi time.Duration) Option {
	return func(b *Bus) {
		b.delayMin = lo
		b.delayMax = hi
	}
}

// WithSeed fixes the random source used for delays.
func WithSeed(seed uint64) Option {
	return func(b *Bus) {
		b.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithInboxCapacity bounds every inbox to n envelopes. Zero is unbounded.
func WithInboxCapacity(n int) Option {
	return func(b *Bus) {
		b.capacity = n
	}
}

// WithCodec selects the envelope codec.
func WithCodec(c Codec) Option {
	return func(b *Bus) {
		b.codec = c
	}
}

// WithLogger sets the logger for delivery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New creates a bus. Without options it is FIFO, unbounded and uses
// msgpack.
func New(opts ...Option) *Bus {
	b := &Bus{
		inboxes: make(map[string]*Inbox),
		codec:   MsgpackCodec{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return b
}

// Register creates the inbox for nodeID.
func (b *Bus) Register(nodeID string) (*Inbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.inboxes[nodeID]; ok {
		return nil, fmt.Errorf("node %q already registered", nodeID)
	}
	in := newInbox(nodeID, b.capacity)
	b.inboxes[nodeID] = in
	return in, nil
}

// Delayed reports whether the bus reorders deliveries.
func (b *Bus) Delayed() bool {
	return b.delayMax > 0
}

// Submit hands env to the bus. Errors are *DeliveryError wrapping
// ErrUnknownNode, ErrInboxFull, ErrClosed, a codec failure or ctx.Err().
func (b *Bus) Submit(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return b.refuse(env, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return b.refuse(env, ErrClosed)
	}
	in, ok := b.inboxes[env.To]
	if !ok {
		return b.refuse(env, ErrUnknownNode)
	}

	msg, err := copyEnvelope(b.codec, env)
	if err != nil {
		return b.refuse(env, err)
	}
	if err := in.reserve(); err != nil {
		return b.refuse(env, err)
	}

	if !b.Delayed() {
		in.deliver(msg)
		b.logger.Debug("envelope delivered", "envelope", msg.ID, "from", msg.From, "to", msg.To)
		return nil
	}

	d := b.nextDelay()
	b.inflight.Add(1)
	b.pending.Add(1)
	time.AfterFunc(d, func() {
		defer b.inflight.Done()
		defer b.pending.Add(-1)
		in.deliver(msg)
		b.logger.Debug("envelope delivered", "envelope", msg.ID, "from", msg.From, "to", msg.To, "delay", d)
	})
	return nil
}

// InFlight returns the number of accepted envelopes not yet in an inbox.
func (b *Bus) InFlight() int {
	return int(b.pending.Load())
}

// Undelivered returns how many envelopes sit unread in inboxes.
func (b *Bus) Undelivered() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, in := range b.inboxes {
		n += in.Len()
	}
	return n
}

// Close stops accepting envelopes, waits for in-flight deliveries to land
// and closes every inbox. Queued envelopes remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, in := range b.inboxes {
		in.close()
	}
}

func (b *Bus) nextDelay() time.Duration {
	span := b.delayMax - b.delayMin
	if span <= 0 {
		return b.delayMin
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.delayMin + time.Duration(b.rng.Int64N(int64(span)+1))
}

func (b *Bus) refuse(env Envelope, err error) error {
	b.logger.Warn("envelope refused", "envelope", env.ID, "from", env.From, "to", env.To, "error", err)
	return &DeliveryError{EnvelopeID: env.ID, From: env.From, To: env.To, Err: err}
}
