package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	bodies []string
	ch     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan struct{}, 16)}
}

func (r *recorder) render(ds []Delivery) {
	r.mu.Lock()
	for _, d := range ds {
		r.bodies = append(r.bodies, d.Message.Body)
	}
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no render")
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...)
}

func TestClampPollInterval(t *testing.T) {
	assert.Equal(t, DefaultPollInterval, ClampPollInterval(0))
	assert.Equal(t, MinPollInterval, ClampPollInterval(10*time.Millisecond))
	assert.Equal(t, MaxPollInterval, ClampPollInterval(time.Minute))
	assert.Equal(t, 1500*time.Millisecond, ClampPollInterval(1500*time.Millisecond))
}

func TestPollerDeliversAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()

	alice, err := Create(ctx, st, "ROOM", "room", "alice")
	require.NoError(t, err)
	bob, err := Join(ctx, st, "ROOM", "bob")
	require.NoError(t, err)

	rec := newRecorder()
	done := make(chan error, 1)
	go func() {
		done <- NewPoller(WithInterval(10*time.Millisecond)).Run(ctx, bob, rec.render)
	}()

	_, err = alice.Send(ctx, "first")
	require.NoError(t, err)
	rec.wait(t)

	_, err = alice.Send(ctx, "second")
	require.NoError(t, err)
	rec.wait(t)

	assert.Equal(t, []string{"first", "second"}, rec.snapshot())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerWakesEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()

	alice, err := Create(ctx, st, "ROOM", "room", "alice")
	require.NoError(t, err)
	bob, err := Join(ctx, st, "ROOM", "bob")
	require.NoError(t, err)

	wake := make(chan struct{}, 1)
	rec := newRecorder()
	go NewPoller(WithInterval(time.Hour), WithWake(wake)).Run(ctx, bob, rec.render)

	_, err = alice.Send(ctx, "ping")
	require.NoError(t, err)
	wake <- struct{}{}

	rec.wait(t)
	assert.Equal(t, []string{"ping"}, rec.snapshot())
}

func TestPollerReturnsWhenSessionClosed(t *testing.T) {
	ctx := context.Background()
	s, err := Create(ctx, store.NewMemoryStore(), "ROOM", "room", "alice")
	require.NoError(t, err)
	s.Close()

	err = NewPoller(WithInterval(10*time.Millisecond)).Run(ctx, s, func([]Delivery) {})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

// unavailableFetches fails the first n fetches.
type unavailableFetches struct {
	store.RoomStore
	mu sync.Mutex
	n  int
}

func (u *unavailableFetches) FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error) {
	u.mu.Lock()
	if u.n > 0 {
		u.n--
		u.mu.Unlock()
		return nil, store.ErrUnavailable
	}
	u.mu.Unlock()
	return u.RoomStore.FetchMessages(ctx, code, afterSeq)
}

func TestPollerSurvivesUnavailableStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := &unavailableFetches{RoomStore: store.NewMemoryStore(), n: 3}
	alice, err := Create(ctx, st, "ROOM", "room", "alice")
	require.NoError(t, err)
	bob, err := Join(ctx, st, "ROOM", "bob")
	require.NoError(t, err)

	_, err = alice.Send(ctx, "eventually")
	require.NoError(t, err)

	rec := newRecorder()
	go NewPoller(WithInterval(5*time.Millisecond)).Run(ctx, bob, rec.render)

	rec.wait(t)
	assert.Equal(t, []string{"eventually"}, rec.snapshot())
}
