package hlc

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidPhysicalTime is returned when the physical source yields a
	// reading that cannot seed a clock (zero or negative).
	ErrInvalidPhysicalTime = errors.New("invalid physical time reading")

	// ErrClockDrift is returned by UpdateChecked when a remote timestamp is
	// further ahead of local physical time than the configured bound.
	ErrClockDrift = errors.New("remote clock drift exceeds bound")
)

// Clock is a per-node Hybrid Logical Clock.
//
// The clock owns exactly one current Timestamp. Tick and Update replace it
// under a mutex, so concurrent callers are linearized and every returned
// value is strictly greater than the one before it.
type Clock struct {
	mu       sync.Mutex
	nodeID   string
	physical PhysicalClock
	maxDrift int64 // milliseconds; 0 disables the check
	last     Timestamp
}

// Option configures a Clock.
type Option func(*Clock)

// WithMaxDrift enables drift detection in UpdateChecked. A remote timestamp
// whose physical part is more than d ahead of the local reading is flagged.
func WithMaxDrift(d time.Duration) Option {
	return func(c *Clock) {
		c.maxDrift = d.Milliseconds()
	}
}

// ValidateReading reports whether p can be used as a physical time.
func ValidateReading(p int64) error {
	if p <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPhysicalTime, p)
	}
	return nil
}

// NewClock creates a clock for nodeID reading time from physical.
//
// The physical source is read once to make sure it is usable. The stored
// timestamp starts at zero, so the first event at reading p yields (p, 0).
func NewClock(nodeID string, physical PhysicalClock, opts ...Option) (*Clock, error) {
	if physical == nil {
		return nil, fmt.Errorf("%w: no physical clock for node %q", ErrInvalidPhysicalTime, nodeID)
	}
	if err := ValidateReading(physical.Now()); err != nil {
		return nil, fmt.Errorf("node %q: %w", nodeID, err)
	}

	c := &Clock{
		nodeID:   nodeID,
		physical: physical,
		last:     Timestamp{NodeID: nodeID},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NodeID returns the owning node's identifier.
func (c *Clock) NodeID() string {
	return c.nodeID
}

// Now returns the current timestamp without advancing the clock.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Tick records a local event and returns its timestamp.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt := c.physical.Now()
	cur := c.last

	next := Timestamp{NodeID: c.nodeID}
	if pt > cur.Physical {
		next.Physical = pt
	} else {
		// Physical time stalled or went backward.
		next.Physical = cur.Physical
		next.Logical = cur.Logical + 1
	}

	c.last = next
	return next
}

// Update merges a received timestamp and returns a value that is strictly
// greater than both the previous local timestamp and remote.
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, _ := c.update(remote)
	return next
}

// UpdateChecked is Update plus drift detection. The clock is always
// advanced; when the remote physical time is ahead of the local reading by
// more than the WithMaxDrift bound the returned error wraps ErrClockDrift.
func (c *Clock) UpdateChecked(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, pt := c.update(remote)
	if c.maxDrift > 0 && remote.Physical-pt > c.maxDrift {
		return next, fmt.Errorf("%w: remote %s is %dms ahead of local %d (bound %dms)",
			ErrClockDrift, remote, remote.Physical-pt, pt, c.maxDrift)
	}
	return next, nil
}

// update applies the receive rule. Caller holds c.mu.
func (c *Clock) update(remote Timestamp) (Timestamp, int64) {
	pt := c.physical.Now()
	cur := c.last

	maxPhysical := max(pt, cur.Physical, remote.Physical)

	var logical int64
	switch {
	case maxPhysical == cur.Physical && maxPhysical == remote.Physical:
		logical = max(cur.Logical, remote.Logical) + 1
	case maxPhysical == cur.Physical:
		logical = cur.Logical + 1
	case maxPhysical == remote.Physical:
		logical = remote.Logical + 1
	default:
		logical = 0
	}

	c.last = Timestamp{Physical: maxPhysical, Logical: logical, NodeID: c.nodeID}
	return c.last, pt
}
