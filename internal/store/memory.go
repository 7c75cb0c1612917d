package store

import (
	"context"
	"sync"
	"time"

	"github.com/eldtechnologies/chatroom/internal/models"
)

// MemoryStore keeps rooms in process memory. Used in development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*memoryRoom
}

type memoryRoom struct {
	room     models.Room
	messages []models.Message
	byID     map[string]int // message ID -> index in messages
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*memoryRoom)}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateRoom creates a new room unless the code is taken.
func (s *MemoryStore) CreateRoom(ctx context.Context, code, name string) (*models.Room, error) {
	if err := prepareRoom(code, name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[code]; exists {
		return nil, ErrAlreadyExists
	}

	r := &memoryRoom{
		room: models.Room{
			Code:      code,
			Name:      name,
			CreatedAt: time.Now().UTC(),
		},
		byID: make(map[string]int),
	}
	s.rooms[code] = r

	room := r.room
	return &room, nil
}

// RoomExists checks if a room exists.
func (s *MemoryStore) RoomExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[code]
	return ok, nil
}

// GetRoom returns a copy of the room metadata.
func (s *MemoryStore) GetRoom(_ context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	room := r.room
	room.MessageCount = int64(len(r.messages))
	return &room, nil
}

// AppendMessage appends under the store lock.
func (s *MemoryStore) AppendMessage(ctx context.Context, code string, msg *models.Message) error {
	_, err := s.appendMessage(ctx, code, msg)
	return err
}

func (s *MemoryStore) appendMessage(_ context.Context, code string, msg *models.Message) (bool, error) {
	if err := prepareMessage(code, msg); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return false, ErrNotFound
	}

	if i, dup := r.byID[msg.ID]; dup {
		committed := r.messages[i]
		msg.Seq = committed.Seq
		msg.Timestamp = committed.Timestamp
		return false, nil
	}

	msg.Seq = int64(len(r.messages)) + 1
	r.byID[msg.ID] = len(r.messages)
	r.messages = append(r.messages, *msg)
	return true, nil
}

// FetchMessages returns a sorted copy of the log suffix after afterSeq.
func (s *MemoryStore) FetchMessages(_ context.Context, code string, afterSeq int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}

	start := afterSeq
	if start < 0 {
		start = 0
	}
	if start > int64(len(r.messages)) {
		start = int64(len(r.messages))
	}

	result := make([]models.Message, len(r.messages)-int(start))
	copy(result, r.messages[start:])
	models.SortMessages(result)
	return result, nil
}
