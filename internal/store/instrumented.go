package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatroom/internal/metrics"
	"github.com/eldtechnologies/chatroom/internal/models"
)

// Instrumented decorates a RoomStore with per-call timeouts, metrics and
// failure logging. Deadline errors surface as ErrUnavailable.
type Instrumented struct {
	next    RoomStore
	backend string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewInstrumented wraps next. A zero timeout leaves the caller's deadline alone.
func NewInstrumented(next RoomStore, backend string, timeout time.Duration, logger zerolog.Logger) *Instrumented {
	return &Instrumented{
		next:    next,
		backend: backend,
		timeout: timeout,
		logger:  logger.With().Str("component", "store").Str("backend", backend).Logger(),
	}
}

// Unwrap returns the decorated store.
func (s *Instrumented) Unwrap() RoomStore {
	return s.next
}

func (s *Instrumented) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	metrics.StoreLatency.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())

	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrUnavailable) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = unavailable(op, err)
	}

	kind := errorKind(err)
	metrics.StoreErrors.WithLabelValues(s.backend, op, kind).Inc()

	switch kind {
	case "unavailable", "internal":
		s.logger.Warn().Err(err).Str("op", op).Msg("store call failed")
	default:
		s.logger.Debug().Err(err).Str("op", op).Msg("store call rejected")
	}
	return err
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

func (s *Instrumented) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", s.next.Ping)
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}

func (s *Instrumented) CreateRoom(ctx context.Context, code, name string) (*models.Room, error) {
	var room *models.Room
	err := s.call(ctx, "create_room", func(ctx context.Context) error {
		var err error
		room, err = s.next.CreateRoom(ctx, code, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RoomsCreated.Inc()
	return room, nil
}

func (s *Instrumented) RoomExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.call(ctx, "room_exists", func(ctx context.Context) error {
		var err error
		exists, err = s.next.RoomExists(ctx, code)
		return err
	})
	return exists, err
}

func (s *Instrumented) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	var room *models.Room
	err := s.call(ctx, "get_room", func(ctx context.Context) error {
		var err error
		room, err = s.next.GetRoom(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// AppendMessage counts only new commits; retries of a known ID are not
// counted when the backend can tell them apart.
func (s *Instrumented) AppendMessage(ctx context.Context, code string, msg *models.Message) error {
	_, err := s.appendMessage(ctx, code, msg)
	return err
}

func (s *Instrumented) appendMessage(ctx context.Context, code string, msg *models.Message) (bool, error) {
	committed := true
	err := s.call(ctx, "append_message", func(ctx context.Context) error {
		if c, ok := s.next.(committer); ok {
			var err error
			committed, err = c.appendMessage(ctx, code, msg)
			return err
		}
		return s.next.AppendMessage(ctx, code, msg)
	})
	if err != nil {
		return false, err
	}
	if committed {
		metrics.MessagesAppended.Inc()
	}
	return committed, nil
}

func (s *Instrumented) FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error) {
	var msgs []models.Message
	err := s.call(ctx, "fetch_messages", func(ctx context.Context) error {
		var err error
		msgs, err = s.next.FetchMessages(ctx, code, afterSeq)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
