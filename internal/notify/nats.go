package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when subscribing on a closed notifier.
var ErrClosed = errors.New("notifier closed")

// Event is the payload published for each committed message.
type Event struct {
	Room string `json:"room"`
	Seq  int64  `json:"seq"`
}

// Subject returns the NATS subject for room code, e.g. "chat.room.ABC123".
func Subject(code string) string {
	return fmt.Sprintf("chat.room.%s", code)
}

// NATS shares notifications between server instances through a NATS subject
// per room.
type NATS struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string, logger zerolog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("chatroom"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{conn: nc, logger: logger}, nil
}

// Notify publishes an Event on the room subject.
func (n *NATS) Notify(ctx context.Context, code string, seq int64) error {
	data, err := json.Marshal(Event{Room: code, Seq: seq})
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := n.conn.Publish(Subject(code), data); err != nil {
		return fmt.Errorf("failed to publish to room %s: %w", code, err)
	}
	return nil
}

// Subscribe wakes the returned channel on each event for code.
func (n *NATS) Subscribe(code string) (<-chan struct{}, func(), error) {
	if n.conn.IsClosed() {
		return nil, nil, ErrClosed
	}

	ch := make(chan struct{}, 1)
	sub, err := n.conn.Subscribe(Subject(code), func(msg *nats.Msg) {
		signal(ch)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to room %s: %w", code, err)
	}

	cancel := func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			n.logger.Debug().Err(err).Str("room", code).Msg("unsubscribe failed")
		}
	}
	return ch, cancel, nil
}

// Close drains subscriptions and closes the connection.
func (n *NATS) Close() error {
	if n.conn.IsClosed() {
		return nil
	}
	return n.conn.Drain()
}
