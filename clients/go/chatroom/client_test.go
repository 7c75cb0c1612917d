package chatroom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatroom/internal/api"
	"github.com/eldtechnologies/chatroom/internal/chat"
	"github.com/eldtechnologies/chatroom/internal/handlers"
	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	h := handlers.NewHandler(store.NewMemoryStore(), "memory", zerolog.Nop())
	srv := httptest.NewServer(api.NewRouter(zerolog.Nop(), h, nil))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL + "/")
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Ping(ctx))

	room, err := c.CreateRoom(ctx, "REMOTE", "Remote")
	require.NoError(t, err)
	assert.Equal(t, "REMOTE", room.Code)
	assert.False(t, room.CreatedAt.IsZero())

	_, err = c.CreateRoom(ctx, "REMOTE", "Again")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	exists, err := c.RoomExists(ctx, "REMOTE")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.RoomExists(ctx, "MISSING")
	require.NoError(t, err)
	assert.False(t, exists)

	msg := &models.Message{Author: "alice", Body: "over http"}
	require.NoError(t, c.AppendMessage(ctx, "REMOTE", msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, int64(1), msg.Seq)

	// Same ID again is a no-op on the server
	dup := *msg
	require.NoError(t, c.AppendMessage(ctx, "REMOTE", &dup))
	assert.Equal(t, msg.Seq, dup.Seq)

	msgs, err := c.FetchMessages(ctx, "REMOTE", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "over http", msgs[0].Body)

	msgs, err = c.FetchMessages(ctx, "REMOTE", 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := c.GetRoom(ctx, "REMOTE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MessageCount)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.FetchMessages(ctx, "MISSING", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = c.AppendMessage(ctx, "MISSING", &models.Message{Author: "a", Body: "b"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = c.CreateRoom(ctx, "OK", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	var apiErr *APIError
	_, err = c.GetRoom(ctx, "MISSING")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	c.HTTPClient.Timeout = time.Second

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestSessionsOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	alice, err := chat.CreateWithGeneratedCode(ctx, c, "lounge", "alice")
	require.NoError(t, err)
	bob, err := chat.Join(ctx, c, alice.RoomCode(), "bob")
	require.NoError(t, err)

	_, err = alice.Send(ctx, "hi bob")
	require.NoError(t, err)
	_, err = bob.Send(ctx, "hi alice")
	require.NoError(t, err)

	got, err := bob.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi bob", got[0].Message.Body)
	assert.False(t, got[0].Own)

	got, err = alice.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi alice", got[0].Message.Body)

	_, err = chat.Join(ctx, c, "NOSUCHROOM", "carol")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
