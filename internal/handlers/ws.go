package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatroom/internal/chat"
	"github.com/eldtechnologies/chatroom/internal/metrics"
	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = models.MaxBodyLength*4 + 512
	sendRetries    = 3
	sendRetryDelay = 200 * time.Millisecond
)

// Stream frame types.
const (
	FrameMessage = "message" // delivery of someone else's message
	FrameSent    = "sent"    // acknowledgement of a message sent on this stream
	FrameError   = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is served to any origin, see CORS.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamFrame is one JSON frame written to a WebSocket viewer.
type StreamFrame struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message,omitempty"`
	Own     bool            `json:"own,omitempty"`
	Time    string          `json:"time,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func deliveryFrame(d chat.Delivery) StreamFrame {
	msg := d.Message
	return StreamFrame{Type: FrameMessage, Message: &msg, Own: d.Own, Time: d.Time()}
}

// RoomStream serves a viewer session over WebSocket. New messages are pushed
// as they are polled; every text frame received is sent as a message.
func (h *Handler) RoomStream(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	name := sanitizeName(r.URL.Query().Get("name"))

	session, err := chat.Join(r.Context(), h.store, code, name)
	if err != nil {
		h.StoreError(w, r, err)
		return
	}
	defer session.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.Warn().Err(err).Str("room", code).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().
		Str("room", code).
		Str("session", session.ID()).
		Str("name", name).
		Logger()
	logger.Info().Str("remote_addr", r.RemoteAddr).Msg("stream opened")

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wake, unsubscribe, err := h.notifier.Subscribe(code)
	if err != nil {
		logger.Warn().Err(err).Msg("notifications unavailable, polling only")
		wake, unsubscribe = nil, func() {}
	}
	defer unsubscribe()

	out := make(chan StreamFrame, 64)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		writePump(ctx, conn, out, logger)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		poller := chat.NewPoller(
			chat.WithInterval(h.pollInterval),
			chat.WithWake(wake),
			chat.WithLogger(logger),
		)
		err := poller.Run(ctx, session, func(ds []chat.Delivery) {
			for _, d := range ds {
				if !enqueue(ctx, out, deliveryFrame(d)) {
					return
				}
			}
		})
		if err != nil && !errors.Is(err, chat.ErrSessionClosed) {
			logger.Warn().Err(err).Msg("stream poller stopped")
			enqueue(ctx, out, StreamFrame{Type: FrameError, Error: err.Error()})
		}
	}()

	h.readPump(ctx, conn, session, out, logger)
	cancel()
	wg.Wait()

	logger.Info().Msg("stream closed")
}

// readPump sends each inbound text frame until the connection fails.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, session *chat.Session, out chan<- StreamFrame, logger zerolog.Logger) {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("stream read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := h.send(ctx, session, string(data))
		if err != nil {
			if !enqueue(ctx, out, StreamFrame{Type: FrameError, Error: sendErrorText(err)}) {
				return
			}
			continue
		}

		frame := deliveryFrame(chat.Delivery{Message: *msg, Own: true})
		frame.Type = FrameSent
		if !enqueue(ctx, out, frame) {
			return
		}
	}
}

// send appends body, retrying the same message while the store is unavailable.
func (h *Handler) send(ctx context.Context, session *chat.Session, body string) (*models.Message, error) {
	msg, err := session.Send(ctx, body)
	for attempt := 1; attempt < sendRetries && errors.Is(err, store.ErrUnavailable); attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sendRetryDelay * time.Duration(attempt)):
		}
		err = session.Retry(ctx, msg)
	}
	if err != nil {
		return nil, err
	}

	if err := h.notifier.Notify(ctx, session.RoomCode(), msg.Seq); err != nil {
		h.logger.Warn().Err(err).Str("room", session.RoomCode()).Msg("notify failed")
	}
	return msg, nil
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, store.ErrNotFound):
		return "room not found"
	case errors.Is(err, store.ErrUnavailable):
		return "store unavailable, message not sent"
	default:
		return "message not sent"
	}
}

// writePump is the only writer of conn.
func writePump(ctx context.Context, conn *websocket.Conn, out <-chan StreamFrame, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func enqueue(ctx context.Context, out chan<- StreamFrame, frame StreamFrame) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}
