package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hlcsim/internal/hlc"
)

func envelope(id, from, to string, physical, logical int64) Envelope {
	return Envelope{
		ID:        id,
		From:      from,
		To:        to,
		Timestamp: hlc.Timestamp{Physical: physical, Logical: logical, NodeID: from},
		Payload:   []byte("payload-" + id),
	}
}

func TestBus_FIFODelivery(t *testing.T) {
	b := New()
	in, err := b.Register("b")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Submit(ctx, envelope(fmt.Sprintf("a-%d", i), "a", "b", 100, int64(i))))
	}

	for i := 0; i < 5; i++ {
		env, ok := in.TryReceive()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("a-%d", i), env.ID)
		assert.Equal(t, int64(i), env.Timestamp.Logical)
	}
	_, ok := in.TryReceive()
	assert.False(t, ok)
}

func TestBus_DeliversCopy(t *testing.T) {
	b := New()
	in, err := b.Register("b")
	require.NoError(t, err)

	env := envelope("a-0", "a", "b", 100, 1)
	require.NoError(t, b.Submit(context.Background(), env))

	// Mutating the sender's buffer after submit must not leak through.
	env.Payload[0] = 'X'

	got, ok := in.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "payload-a-0", string(got.Payload))
	assert.Equal(t, hlc.Timestamp{Physical: 100, Logical: 1, NodeID: "a"}, got.Timestamp)
}

func TestBus_Codecs(t *testing.T) {
	for _, name := range []string{"msgpack", "cbor"} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			b := New(WithCodec(codec))
			in, err := b.Register("b")
			require.NoError(t, err)

			sent := envelope("a-7", "a", "b", 1_700_000_000_000, 42)
			require.NoError(t, b.Submit(context.Background(), sent))

			got, ok := in.TryReceive()
			require.True(t, ok)
			assert.Equal(t, sent, got)
		})
	}
}

func TestCodecByName_Unknown(t *testing.T) {
	_, err := CodecByName("protobuf")
	assert.Error(t, err)

	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())
}

func TestBus_UnknownNode(t *testing.T) {
	b := New()
	err := b.Submit(context.Background(), envelope("a-0", "a", "nobody", 1, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownNode))

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "nobody", de.To)
}

func TestBus_DuplicateRegister(t *testing.T) {
	b := New()
	_, err := b.Register("a")
	require.NoError(t, err)
	_, err = b.Register("a")
	assert.Error(t, err)
}

func TestBus_BoundedInboxBackpressure(t *testing.T) {
	b := New(WithInboxCapacity(2))
	in, err := b.Register("b")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, envelope("a-0", "a", "b", 1, 0)))
	require.NoError(t, b.Submit(ctx, envelope("a-1", "a", "b", 1, 1)))

	err = b.Submit(ctx, envelope("a-2", "a", "b", 1, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInboxFull))

	_, ok := in.TryReceive()
	require.True(t, ok)
	assert.NoError(t, b.Submit(ctx, envelope("a-2", "a", "b", 1, 2)), "slot freed by receive")
}

func TestBus_DelayedDeliveryCountsReservations(t *testing.T) {
	b := New(WithInboxCapacity(1), WithDelay(20*time.Millisecond, 20*time.Millisecond), WithSeed(1))
	_, err := b.Register("b")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, envelope("a-0", "a", "b", 1, 0)))
	assert.Equal(t, 1, b.InFlight())

	err = b.Submit(ctx, envelope("a-1", "a", "b", 1, 1))
	assert.True(t, errors.Is(err, ErrInboxFull), "in-flight envelope holds the only slot")

	b.Close()
	assert.Equal(t, 0, b.InFlight())
	assert.Equal(t, 1, b.Undelivered())
}

func TestBus_DelayedDeliveryLosesNothing(t *testing.T) {
	b := New(WithDelay(0, 5*time.Millisecond), WithSeed(7))
	in, err := b.Register("b")
	require.NoError(t, err)

	const senders = 4
	const perSender = 25

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			from := fmt.Sprintf("s%d", s)
			for i := 0; i < perSender; i++ {
				assert.NoError(t, b.Submit(context.Background(), envelope(fmt.Sprintf("%s-%d", from, i), from, "b", 10, int64(i))))
			}
		}(s)
	}
	wg.Wait()
	b.Close()

	seen := make(map[string]bool)
	for _, env := range in.Drain() {
		assert.False(t, seen[env.ID], "duplicate %s", env.ID)
		seen[env.ID] = true
	}
	assert.Len(t, seen, senders*perSender)
}

func TestBus_SubmitAfterClose(t *testing.T) {
	b := New()
	_, err := b.Register("b")
	require.NoError(t, err)
	b.Close()

	err = b.Submit(context.Background(), envelope("a-0", "a", "b", 1, 0))
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = b.Register("c")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestBus_SubmitCancelledContext(t *testing.T) {
	b := New()
	_, err := b.Register("b")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = b.Submit(ctx, envelope("a-0", "a", "b", 1, 0))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInbox_ReceiveBlocksUntilDelivery(t *testing.T) {
	b := New(WithDelay(10*time.Millisecond, 10*time.Millisecond), WithSeed(3))
	in, err := b.Register("b")
	require.NoError(t, err)

	require.NoError(t, b.Submit(context.Background(), envelope("a-0", "a", "b", 5, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := in.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a-0", env.ID)
}

func TestInbox_ReceiveHonorsContext(t *testing.T) {
	b := New()
	in, err := b.Register("b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = in.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestInbox_ReceiveAfterCloseDrainsThenFails(t *testing.T) {
	b := New()
	in, err := b.Register("b")
	require.NoError(t, err)
	require.NoError(t, b.Submit(context.Background(), envelope("a-0", "a", "b", 5, 0)))
	b.Close()

	env, err := in.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-0", env.ID)

	_, err = in.Receive(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestInbox_Drain(t *testing.T) {
	b := New()
	in, err := b.Register("b")
	require.NoError(t, err)
	assert.Equal(t, "b", in.Owner())

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Submit(context.Background(), envelope(fmt.Sprintf("a-%d", i), "a", "b", 5, int64(i))))
	}
	assert.Equal(t, 3, in.Len())

	got := in.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "a-0", got[0].ID)
	assert.Equal(t, "a-2", got[2].ID)
	assert.Equal(t, 0, in.Len())
}
