package hlc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClock(t *testing.T, nodeID string, physical PhysicalClock, opts ...Option) *Clock {
	t.Helper()
	c, err := NewClock(nodeID, physical, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClock_StartsAtZero(t *testing.T) {
	c := newTestClock(t, "a", NewManualClock(100))
	assert.True(t, c.Now().IsZero())
	assert.Equal(t, "a", c.NodeID())
	assert.Equal(t, "a", c.Now().NodeID)
}

func TestNewClock_InvalidPhysicalTime(t *testing.T) {
	tests := []struct {
		name     string
		physical PhysicalClock
	}{
		{"nil source", nil},
		{"zero reading", NewManualClock(0)},
		{"negative reading", NewManualClock(-5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClock("a", tt.physical)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPhysicalTime))
		})
	}
}

func TestTick_FrozenPhysicalIncrementsLogical(t *testing.T) {
	c := newTestClock(t, "a", NewManualClock(100))

	first := c.Tick()
	second := c.Tick()

	assert.Equal(t, Timestamp{Physical: 100, Logical: 0, NodeID: "a"}, first)
	assert.Equal(t, Timestamp{Physical: 100, Logical: 1, NodeID: "a"}, second)
	assert.Equal(t, first.Physical, second.Physical)
	assert.Equal(t, int64(1), second.Logical-first.Logical)
}

func TestTick_PhysicalAdvanceResetsLogical(t *testing.T) {
	pc := NewManualClock(100)
	c := newTestClock(t, "b", pc)

	c.Tick()
	c.Tick()
	pc.Set(101)

	assert.Equal(t, Timestamp{Physical: 101, Logical: 0, NodeID: "b"}, c.Tick())
}

func TestTick_PhysicalGoesBackward(t *testing.T) {
	pc := NewManualClock(200)
	c := newTestClock(t, "a", pc)

	assert.Equal(t, int64(200), c.Tick().Physical)
	pc.Set(150)

	ts := c.Tick()
	assert.Equal(t, int64(200), ts.Physical, "physical must not go backward")
	assert.Equal(t, int64(1), ts.Logical)
}

func TestUpdate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		pt       int64
		cur      Timestamp
		remote   Timestamp
		expected Timestamp
	}{
		{
			name:     "all equal physical takes max logical plus one",
			pt:       100,
			cur:      Timestamp{Physical: 100, Logical: 0},
			remote:   Timestamp{Physical: 100, Logical: 1},
			expected: Timestamp{Physical: 100, Logical: 2},
		},
		{
			name:     "local physical ahead",
			pt:       90,
			cur:      Timestamp{Physical: 120, Logical: 4},
			remote:   Timestamp{Physical: 110, Logical: 9},
			expected: Timestamp{Physical: 120, Logical: 5},
		},
		{
			name:     "remote physical ahead",
			pt:       90,
			cur:      Timestamp{Physical: 100, Logical: 4},
			remote:   Timestamp{Physical: 130, Logical: 7},
			expected: Timestamp{Physical: 130, Logical: 8},
		},
		{
			name:     "wall clock ahead of both",
			pt:       500,
			cur:      Timestamp{Physical: 100, Logical: 4},
			remote:   Timestamp{Physical: 130, Logical: 7},
			expected: Timestamp{Physical: 500, Logical: 0},
		},
		{
			name:     "wall clock ties local",
			pt:       100,
			cur:      Timestamp{Physical: 100, Logical: 3},
			remote:   Timestamp{Physical: 50, Logical: 9},
			expected: Timestamp{Physical: 100, Logical: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClock(t, "n", NewManualClock(tt.pt))
			c.last = tt.cur.WithNode("n")

			got := c.Update(tt.remote)
			assert.Equal(t, tt.expected.WithNode("n"), got)
			assert.True(t, got.After(tt.cur), "result must follow local state")
			assert.True(t, got.After(tt.remote), "result must follow remote")
		})
	}
}

func TestUpdate_RemoteFarInFuture(t *testing.T) {
	c := newTestClock(t, "b", NewManualClock(1_000))
	c.Tick()

	remote := Timestamp{Physical: 9_000_000, Logical: 3, NodeID: "a"}
	got := c.Update(remote)

	assert.Equal(t, remote.Physical, got.Physical)
	assert.Equal(t, remote.Logical+1, got.Logical)
	assert.Equal(t, "b", got.NodeID)
}

func TestUpdateChecked_Drift(t *testing.T) {
	c := newTestClock(t, "b", NewManualClock(1_000), WithMaxDrift(500*time.Millisecond))

	ts, err := c.UpdateChecked(Timestamp{Physical: 1_400, NodeID: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1_400), ts.Physical)

	ts, err = c.UpdateChecked(Timestamp{Physical: 5_000, Logical: 2, NodeID: "a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClockDrift))
	assert.Equal(t, Timestamp{Physical: 5_000, Logical: 3, NodeID: "b"}, ts, "clock still advances")
	assert.Equal(t, ts, c.Now())
}

func TestUpdateChecked_DisabledByDefault(t *testing.T) {
	c := newTestClock(t, "b", NewManualClock(1))
	_, err := c.UpdateChecked(Timestamp{Physical: 1 << 40})
	assert.NoError(t, err)
}

// Worked example: A ticks twice at frozen 100, sends (100,1) to B at (100,0).
func TestScenario_FrozenClockExchange(t *testing.T) {
	pa := NewManualClock(100)
	pb := NewManualClock(100)
	a := newTestClock(t, "a", pa)
	b := newTestClock(t, "b", pb)

	assert.Equal(t, Timestamp{100, 0, "a"}, a.Tick())
	sent := a.Tick()
	assert.Equal(t, Timestamp{100, 1, "a"}, sent)

	assert.Equal(t, Timestamp{100, 0, "b"}, b.Tick())
	assert.Equal(t, Timestamp{100, 2, "b"}, b.Update(sent))

	pb.Set(101)
	assert.Equal(t, Timestamp{101, 0, "b"}, b.Tick())
}

func TestClock_MonotonicUnderMixedCalls(t *testing.T) {
	pc := NewManualClock(1_000)
	c := newTestClock(t, "a", pc)

	readings := []int64{1_000, 1_000, 999, 1_005, 1_005, 900, 2_000, 2_000}
	remotes := []Timestamp{
		{Physical: 1_003, Logical: 9},
		{Physical: 10, Logical: 0},
		{Physical: 1_005, Logical: 1},
		{Physical: 3_000, Logical: 0},
	}

	prev := c.Now()
	for i, r := range readings {
		pc.Set(r)
		var ts Timestamp
		if i%2 == 0 {
			ts = c.Tick()
		} else {
			ts = c.Update(remotes[(i/2)%len(remotes)])
		}
		require.True(t, ts.After(prev), "step %d: %s not after %s", i, ts, prev)
		prev = ts
	}
}

func TestClock_ConcurrentCallsAreLinearized(t *testing.T) {
	c := newTestClock(t, "a", NewManualClock(42))
	const goroutines = 50
	const callsPerGoroutine = 200

	var wg sync.WaitGroup
	results := make(chan Timestamp, goroutines*callsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				if (i+j)%3 == 0 {
					results <- c.Update(Timestamp{Physical: 42, Logical: int64(j)})
				} else {
					results <- c.Tick()
				}
			}
		}(i)
	}

	wg.Wait()
	close(results)

	seen := make(map[[2]int64]bool)
	for ts := range results {
		key := [2]int64{ts.Physical, ts.Logical}
		assert.False(t, seen[key], "timestamp %s handed out twice", ts)
		seen[key] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}

func TestSystemClock_Readings(t *testing.T) {
	now := SystemClock{}.Now()
	assert.NoError(t, ValidateReading(now))
	assert.InDelta(t, time.Now().UnixMilli(), now, 1_000)
}

func TestSkewedClock(t *testing.T) {
	base := NewManualClock(1_000)
	skewed := SkewedClock{Base: base, Offset: -250}
	assert.Equal(t, int64(750), skewed.Now())

	base.Advance(10)
	assert.Equal(t, int64(760), skewed.Now())
}

func TestPhysicalClockFunc(t *testing.T) {
	var f PhysicalClock = PhysicalClockFunc(func() int64 { return 7 })
	assert.Equal(t, int64(7), f.Now())
}
