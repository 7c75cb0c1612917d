// Package chat implements viewer sessions on top of a RoomStore: joining or
// creating a room, sending messages and polling for deliveries exactly once.
package chat

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

// ErrSessionClosed is returned by Poll and Send after Close.
var ErrSessionClosed = errors.New("session closed")

// pendingSeq marks a sent message whose committed Seq is not known yet.
const pendingSeq = math.MaxInt64

// Session is one viewer bound to one room. It remembers which messages the
// viewer has already seen so that each message is delivered once.
// A Session is safe for concurrent use.
type Session struct {
	id          string
	st          store.RoomStore
	roomCode    string
	displayName string

	mu     sync.Mutex
	seen   map[string]int64 // message ID -> Seq
	cursor int64            // highest Seq fetched
	closed bool
}

// Join binds a new session to an existing room.
func Join(ctx context.Context, st store.RoomStore, code, displayName string) (*Session, error) {
	if err := models.ValidateCode(code); err != nil {
		return nil, err
	}
	if err := models.ValidateAuthor(displayName); err != nil {
		return nil, err
	}

	exists, err := st.RoomExists(ctx, code)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return newSession(st, code, displayName), nil
}

// Create creates the room and binds a new session to it.
func Create(ctx context.Context, st store.RoomStore, code, roomName, displayName string) (*Session, error) {
	if err := models.ValidateAuthor(displayName); err != nil {
		return nil, err
	}
	if _, err := st.CreateRoom(ctx, code, roomName); err != nil {
		return nil, err
	}
	return newSession(st, code, displayName), nil
}

func newSession(st store.RoomStore, code, displayName string) *Session {
	return &Session{
		id:          uuid.New().String(),
		st:          st,
		roomCode:    code,
		displayName: displayName,
		seen:        make(map[string]int64),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RoomCode returns the bound room.
func (s *Session) RoomCode() string { return s.roomCode }

// DisplayName returns the viewer's name.
func (s *Session) DisplayName() string { return s.displayName }

// Close terminates the session. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.seen = nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Poll returns the messages this viewer has not seen yet, oldest first.
// Messages sent through this session are never returned.
func (s *Session) Poll(ctx context.Context) ([]Delivery, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	cursor := s.cursor
	s.mu.Unlock()

	msgs, err := s.st.FetchMessages(ctx, s.roomCode, cursor)
	if err != nil {
		return nil, err
	}
	models.SortMessages(msgs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	// A concurrent Poll may have merged past our fetch cursor already; its
	// messages up to the merged cursor were handled there. msgs is in time
	// order, so compare against the cursor as it was before this merge.
	merged := s.cursor
	deliveries := []Delivery{}
	for _, m := range msgs {
		if m.Seq <= merged {
			continue
		}
		if m.Seq > s.cursor {
			s.cursor = m.Seq
		}
		if _, ok := s.seen[m.ID]; ok {
			s.seen[m.ID] = m.Seq
			continue
		}
		s.seen[m.ID] = m.Seq
		deliveries = append(deliveries, Delivery{
			Message: m,
			Own:     m.Author == s.displayName,
		})
	}
	s.forget()
	return deliveries, nil
}

// forget drops IDs at or below the cursor. Fetches only return Seq above
// the cursor, so those IDs can no longer be delivered.
func (s *Session) forget() {
	for id, seq := range s.seen {
		if seq <= s.cursor {
			delete(s.seen, id)
		}
	}
}

// Send appends body to the room as this viewer and returns the message.
// The message counts as seen, so Poll will not return it. When the error
// is store.ErrUnavailable the returned message can be passed to Retry.
func (s *Session) Send(ctx context.Context, body string) (*models.Message, error) {
	if err := models.ValidateBody(body); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        ulid.Make().String(),
		RoomCode:  s.roomCode,
		Author:    s.displayName,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.Retry(ctx, msg); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return msg, err
		}
		return nil, err
	}
	return msg, nil
}

// Retry appends msg again after a failed Send. The store ignores IDs it
// already holds, so a message is never duplicated.
func (s *Session) Retry(ctx context.Context, msg *models.Message) error {
	if err := s.markPending(msg.ID); err != nil {
		return err
	}

	err := s.st.AppendMessage(ctx, s.roomCode, msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	switch {
	case err == nil:
		if msg.Seq > s.cursor {
			s.seen[msg.ID] = msg.Seq
		} else {
			delete(s.seen, msg.ID)
		}
	case errors.Is(err, store.ErrUnavailable):
		// The append may still have committed; keep it seen.
	default:
		delete(s.seen, msg.ID)
	}
	return err
}

func (s *Session) markPending(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.seen[id]; !ok {
		s.seen[id] = pendingSeq
	}
	return nil
}

// Delivery is a message as shown to one viewer.
type Delivery struct {
	Message models.Message `json:"message"`
	// Own is true for messages authored under the viewer's display name.
	Own bool `json:"own"`
}

// Time formats the message time as HH:MM:SS in local time.
func (d Delivery) Time() string {
	return d.Message.Time().Local().Format("15:04:05")
}

// Initial returns the upper-cased first letter of the author, for avatars.
func (d Delivery) Initial() string {
	r, _ := utf8.DecodeRuneInString(d.Message.Author)
	if r == utf8.RuneError {
		return "?"
	}
	return strings.ToUpper(string(r))
}
