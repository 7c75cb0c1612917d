package store

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatroom/internal/metrics"
	"github.com/eldtechnologies/chatroom/internal/models"
)

// stalledStore blocks fetches until the context ends.
type stalledStore struct {
	RoomStore
}

func (stalledStore) FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInstrumented(t *testing.T) {
	runRoomStoreSuite(t, func(t *testing.T) RoomStore {
		return NewInstrumented(NewMemoryStore(), "memory", time.Second, zerolog.Nop())
	})
}

func TestInstrumentedCountsOnlyNewMessages(t *testing.T) {
	ctx := context.Background()
	s := NewInstrumented(NewMemoryStore(), "memory", time.Second, zerolog.Nop())
	_, err := s.CreateRoom(ctx, "COUNT", "room")
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.MessagesAppended)

	msg := &models.Message{Author: "alice", Body: "hi"}
	require.NoError(t, s.AppendMessage(ctx, "COUNT", msg))
	require.NoError(t, s.AppendMessage(ctx, "COUNT", &models.Message{ID: msg.ID, Author: "alice", Body: "hi"}))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MessagesAppended))
}

func TestInstrumentedTimeoutIsUnavailable(t *testing.T) {
	s := NewInstrumented(stalledStore{NewMemoryStore()}, "memory", 20*time.Millisecond, zerolog.Nop())

	_, err := s.FetchMessages(context.Background(), "SLOW", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}
