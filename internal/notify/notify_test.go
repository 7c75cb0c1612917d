package notify

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func received(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func quiet(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return false
	case <-time.After(50 * time.Millisecond):
		return true
	}
}

func testNotifier(t *testing.T, n Notifier) {
	ctx := context.Background()

	roomA, cancelA, err := n.Subscribe("ROOMA")
	require.NoError(t, err)
	defer cancelA()
	roomB, cancelB, err := n.Subscribe("ROOMB")
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, "ROOMA", 1))
	assert.True(t, received(roomA))
	assert.True(t, quiet(roomB), "other rooms are not woken")

	// Bursts coalesce into one pending wake-up.
	for seq := int64(2); seq < 10; seq++ {
		require.NoError(t, n.Notify(ctx, "ROOMA", seq))
	}
	assert.True(t, received(roomA))

	cancelB()
	cancelB()
	require.NoError(t, n.Notify(ctx, "ROOMB", 1))
	assert.True(t, quiet(roomB))
}

func TestLocal(t *testing.T) {
	n := NewLocal()
	testNotifier(t, n)

	require.NoError(t, n.Close())
	_, _, err := n.Subscribe("ROOMA")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNATS(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	defer srv.Shutdown()

	n, err := NewNATS(srv.ClientURL(), zerolog.Nop())
	require.NoError(t, err)
	testNotifier(t, n)

	require.NoError(t, n.Close())
}

func TestNATSAcrossConnections(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	defer srv.Shutdown()

	publisher, err := NewNATS(srv.ClientURL(), zerolog.Nop())
	require.NoError(t, err)
	defer publisher.Close()
	subscriber, err := NewNATS(srv.ClientURL(), zerolog.Nop())
	require.NoError(t, err)
	defer subscriber.Close()

	ch, cancel, err := subscriber.Subscribe("SHARED")
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, subscriber.conn.Flush())

	require.NoError(t, publisher.Notify(context.Background(), "SHARED", 7))
	assert.True(t, received(ch))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "chat.room.ABC123", Subject("ABC123"))
}
