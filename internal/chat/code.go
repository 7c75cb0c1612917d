package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaevor/go-nanoid"

	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

const (
	// CodeAlphabet is the character set of generated room codes.
	CodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// CodeLength is the length of generated room codes.
	CodeLength = 8

	maxCodeAttempts = 5
)

var generateCode = mustCodeGenerator()

func mustCodeGenerator() func() string {
	gen, err := nanoid.CustomASCII(CodeAlphabet, CodeLength)
	if err != nil {
		panic(fmt.Sprintf("room code generator: %v", err))
	}
	return gen
}

// NewRoomCode returns a random room code. Uniqueness is enforced by the store.
func NewRoomCode() string {
	return generateCode()
}

// CreateRoomWithGeneratedCode creates a room under a fresh random code,
// drawing a new code whenever the store reports a collision.
func CreateRoomWithGeneratedCode(ctx context.Context, st store.RoomStore, roomName string) (*models.Room, error) {
	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		var room *models.Room
		room, err = st.CreateRoom(ctx, NewRoomCode(), roomName)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no free room code after %d attempts: %w", maxCodeAttempts, err)
}

// CreateWithGeneratedCode creates a room under a generated code and binds a
// new session to it.
func CreateWithGeneratedCode(ctx context.Context, st store.RoomStore, roomName, displayName string) (*Session, error) {
	if err := models.ValidateAuthor(displayName); err != nil {
		return nil, err
	}
	room, err := CreateRoomWithGeneratedCode(ctx, st, roomName)
	if err != nil {
		return nil, err
	}
	return newSession(st, room.Code, displayName), nil
}
