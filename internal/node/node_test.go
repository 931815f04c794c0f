package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hlcsim/internal/bus"
	"github.com/roach88/hlcsim/internal/hlc"
	"github.com/roach88/hlcsim/internal/trace"
)

type fixture struct {
	bus      *bus.Bus
	recorder *trace.Recorder
	clocks   map[string]*hlc.ManualClock
	nodes    map[string]*Node
}

func newFixture(t *testing.T, busOpts []bus.Option, ids ...string) *fixture {
	t.Helper()

	f := &fixture{
		bus:      bus.New(busOpts...),
		recorder: trace.NewRecorder("run-test"),
		clocks:   make(map[string]*hlc.ManualClock),
		nodes:    make(map[string]*Node),
	}
	for _, id := range ids {
		manual := hlc.NewManualClock(100)
		clock, err := hlc.NewClock(id, manual)
		require.NoError(t, err)
		inbox, err := f.bus.Register(id)
		require.NoError(t, err)

		n, err := New(Config{
			ID:           id,
			Clock:        clock,
			Inbox:        inbox,
			Bus:          f.bus,
			Recorder:     f.recorder,
			Manual:       manual,
			SendRetries:  2,
			RetryBackoff: time.Millisecond,
		})
		require.NoError(t, err)
		f.clocks[id] = manual
		f.nodes[id] = n
	}
	return f
}

// ts builds a node-less timestamp; compare against WithNode("").
func ts(p, l int64) hlc.Timestamp {
	return hlc.Timestamp{Physical: p, Logical: l}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	clock, err := hlc.NewClock("a", hlc.NewManualClock(1))
	require.NoError(t, err)
	_, err = New(Config{ID: "a", Clock: clock})
	assert.ErrorContains(t, err, "inbox")
}

func TestNode_TickRecordsEvent(t *testing.T) {
	f := newFixture(t, nil, "a")
	a := f.nodes["a"]

	got, err := a.Tick()
	require.NoError(t, err)
	assert.Equal(t, ts(100, 0), got.WithNode(""))

	got, err = a.Tick()
	require.NoError(t, err)
	assert.Equal(t, ts(100, 1), got.WithNode(""))

	events := f.recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, trace.KindTick, events[0].Kind)
	assert.True(t, events[0].Prev.IsZero())
	assert.Equal(t, events[0].Timestamp, events[1].Prev)
	assert.Equal(t, int64(1), events[1].NodeSeq)
}

func TestNode_SendAndReceive(t *testing.T) {
	f := newFixture(t, nil, "a", "b")
	a, b := f.nodes["a"], f.nodes["b"]
	ctx := context.Background()

	// B ticks twice at 100, then receives A's (100,0).
	_, err := b.Tick()
	require.NoError(t, err)
	_, err = b.Tick()
	require.NoError(t, err)

	sent, err := a.Send(ctx, "b", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, ts(100, 0), sent.WithNode(""))

	n, err := b.Receive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ts(100, 2), b.Now().WithNode(""))
	assert.Equal(t, 1, b.Received())

	f.clocks["b"].Set(101)
	got, err := b.Tick()
	require.NoError(t, err)
	assert.Equal(t, ts(101, 0), got.WithNode(""))

	updates := 0
	for _, e := range f.recorder.Events() {
		if e.Kind != trace.KindUpdate {
			continue
		}
		updates++
		require.NotNil(t, e.Remote)
		assert.Equal(t, ts(100, 0), e.Remote.WithNode(""))
		assert.Equal(t, "a", e.Peer)
		assert.Equal(t, "a-1", e.EnvelopeID)
	}
	assert.Equal(t, 1, updates)
	assert.Empty(t, trace.Verify(f.recorder.Events()))
}

func TestNode_ReceiveZeroWaitDrains(t *testing.T) {
	f := newFixture(t, nil, "a", "b")
	ctx := context.Background()

	n, err := f.nodes["b"].Receive(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "empty inbox is not an error")

	for range 3 {
		_, err := f.nodes["a"].Send(ctx, "b", nil)
		require.NoError(t, err)
	}
	n, err = f.nodes["b"].Receive(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, f.bus.Undelivered())

	var envelopes []string
	for _, e := range trace.ForNode(f.recorder.Events(), "b") {
		envelopes = append(envelopes, e.EnvelopeID)
	}
	assert.Equal(t, []string{"a-1", "a-2", "a-3"}, envelopes, "drained in FIFO order")
}

func TestNode_ReceiveWaitHonorsContext(t *testing.T) {
	f := newFixture(t, nil, "a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.nodes["a"].Receive(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNode_SendDropsAfterRetries(t *testing.T) {
	f := newFixture(t, []bus.Option{bus.WithInboxCapacity(1)}, "a", "b")
	a := f.nodes["a"]
	ctx := context.Background()

	_, err := a.Send(ctx, "b", nil)
	require.NoError(t, err)

	_, err = a.Send(ctx, "b", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bus.ErrInboxFull))

	drops := a.Drops()
	require.Len(t, drops, 1)
	assert.Equal(t, "a-2", drops[0].EnvelopeID)
	assert.Equal(t, 3, drops[0].Attempts, "one try plus two retries")

	// The send still consumed a timestamp.
	assert.Equal(t, ts(100, 1), a.Now().WithNode(""))
}

func TestNode_RunContinuesPastDrop(t *testing.T) {
	f := newFixture(t, []bus.Option{bus.WithInboxCapacity(1)}, "a", "b")

	err := f.nodes["a"].Run(context.Background(), []Action{
		{Op: OpSend, To: "b"},
		{Op: OpSend, To: "b"},
		{Op: OpTick},
	})
	require.NoError(t, err)
	assert.Len(t, f.nodes["a"].Drops(), 1)
	assert.Equal(t, ts(100, 2), f.nodes["a"].Now().WithNode(""))
}

func TestNode_RunStopsOnUnknownPeer(t *testing.T) {
	f := newFixture(t, nil, "a")

	err := f.nodes["a"].Run(context.Background(), []Action{{Op: OpSend, To: "ghost"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bus.ErrUnknownNode))
}

func TestNode_RunPinsManualClock(t *testing.T) {
	f := newFixture(t, nil, "a")
	at := int64(250)

	err := f.nodes["a"].Run(context.Background(), []Action{
		{Op: OpTick},
		{Op: OpTick, At: &at},
	})
	require.NoError(t, err)
	assert.Equal(t, ts(250, 0), f.nodes["a"].Now().WithNode(""))
	assert.Equal(t, int64(250), f.clocks["a"].Now())
}

func TestNode_AtWithoutManualClock(t *testing.T) {
	b := bus.New()
	inbox, err := b.Register("a")
	require.NoError(t, err)
	clock, err := hlc.NewClock("a", hlc.SystemClock{})
	require.NoError(t, err)
	n, err := New(Config{ID: "a", Clock: clock, Inbox: inbox, Bus: b, Recorder: trace.NewRecorder("r")})
	require.NoError(t, err)

	at := int64(5)
	err = n.Apply(context.Background(), Action{Op: OpTick, At: &at})
	assert.ErrorContains(t, err, "manual physical clock")
}

func TestNode_DriftWarning(t *testing.T) {
	b := bus.New()
	rec := trace.NewRecorder("r")
	inbox, err := b.Register("a")
	require.NoError(t, err)
	clock, err := hlc.NewClock("a", hlc.NewManualClock(100), hlc.WithMaxDrift(50*time.Millisecond))
	require.NoError(t, err)
	n, err := New(Config{ID: "a", Clock: clock, Inbox: inbox, Bus: b, Recorder: rec})
	require.NoError(t, err)

	require.NoError(t, b.Submit(context.Background(), bus.Envelope{
		ID:        "z-1",
		From:      "z",
		To:        "a",
		Timestamp: hlc.Timestamp{Physical: 1000, NodeID: "z"},
	}))

	_, err = n.Receive(context.Background(), 1)
	require.NoError(t, err, "drift is reported, not fatal")
	assert.Equal(t, ts(1000, 1), n.Now().WithNode(""))

	warnings := n.DriftWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "z-1", warnings[0].EnvelopeID)
	assert.Contains(t, warnings[0].Message, "drift")
}

func TestParseOp(t *testing.T) {
	for _, s := range []string{"tick", "send", "receive"} {
		op, err := ParseOp(s)
		require.NoError(t, err)
		assert.Equal(t, Op(s), op)
	}
	_, err := ParseOp("update")
	assert.Error(t, err)
}

func TestAction_String(t *testing.T) {
	at := int64(7)
	assert.Equal(t, "tick", Action{Op: OpTick}.String())
	assert.Equal(t, "send->b@7", Action{Op: OpSend, To: "b", At: &at}.String())
	assert.Equal(t, "receive(wait=2)", Action{Op: OpReceive, Wait: 2}.String())
}

func TestNode_LogsEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	b := bus.New()
	clock, err := hlc.NewClock("a", hlc.NewManualClock(100))
	require.NoError(t, err)
	inbox, err := b.Register("a")
	require.NoError(t, err)
	n, err := New(Config{
		ID:       "a",
		Clock:    clock,
		Inbox:    inbox,
		Bus:      b,
		Recorder: trace.NewRecorder("run-log"),
		Logger:   logger,
	})
	require.NoError(t, err)

	_, err = n.Tick()
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hlc event", record["msg"])
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "a", record["node_id"])
	assert.Equal(t, "tick", record["event_kind"])
	assert.Equal(t, "100.0@a", record["timestamp"])
}
