package testutil

import "sync"

// ScriptedClock is a physical clock that returns a fixed sequence of
// readings, one per call to Now. Once the sequence is used up the last
// reading repeats, so a clock that runs out looks stalled.
//
// hlc.NewClock reads its physical source once to validate it, which
// consumes the first reading.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedClock struct {
	mu       sync.Mutex
	readings []int64
	next     int
}

// NewScriptedClock creates a clock returning readings in order.
//
// With no readings, Now returns 0.
func NewScriptedClock(readings ...int64) *ScriptedClock {
	return &ScriptedClock{readings: append([]int64(nil), readings...)}
}

// Now returns the next reading.
func (c *ScriptedClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.readings) == 0 {
		return 0
	}
	i := c.next
	if i >= len(c.readings) {
		i = len(c.readings) - 1
	} else {
		c.next++
	}
	return c.readings[i]
}

// Reads returns how many scripted readings have been consumed.
func (c *ScriptedClock) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Reset rewinds the clock to its first reading.
//
// Used for test reuse. The same readings are returned again in order.
func (c *ScriptedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = 0
}
