package hlc

import (
	"sync/atomic"
	"time"
)

// PhysicalClock supplies wall-clock readings in integer milliseconds.
//
// Readings are not assumed to be synchronized across nodes, nor monotonic:
// a source may stall or jump backward and the HLC rules absorb it.
type PhysicalClock interface {
	Now() int64
}

// SystemClock reads the host wall clock as milliseconds since the Unix epoch.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns time.Now() in Unix milliseconds.
func (SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// ManualClock is a physical clock that only moves when told to.
//
// Simulations use it to freeze a node's wall clock (every tick lands on the
// same physical reading) or to pin readings per scripted action.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a manual clock reading start.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

// Now returns the current reading.
func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

// Set replaces the reading. Moving backward is allowed.
func (c *ManualClock) Set(v int64) {
	c.now.Store(v)
}

// Advance moves the reading by d milliseconds and returns the new value.
func (c *ManualClock) Advance(d int64) int64 {
	return c.now.Add(d)
}

// SkewedClock offsets another physical clock by a fixed number of
// milliseconds, modelling clock skew between nodes.
type SkewedClock struct {
	Base   PhysicalClock
	Offset int64
}

// Now returns Base.Now() + Offset.
func (c SkewedClock) Now() int64 {
	return c.Base.Now() + c.Offset
}

// PhysicalClockFunc adapts a function to PhysicalClock.
type PhysicalClockFunc func() int64

// Now calls f.
func (f PhysicalClockFunc) Now() int64 {
	return f()
}
