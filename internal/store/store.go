package store

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/chatroom/internal/models"
)

// Store errors. Backends wrap these with context; callers match with errors.Is.
var (
	// ErrAlreadyExists is returned when a room code is already taken.
	ErrAlreadyExists = errors.New("room already exists")
	// ErrNotFound is returned when a room code does not reference a room.
	ErrNotFound = errors.New("room not found")
	// ErrUnavailable marks transient infrastructure failures. Retryable.
	ErrUnavailable = errors.New("store unavailable")
)

// RoomStore is the shared, durable home of rooms and their message logs.
// Every method is individually atomic; implementations must be safe for
// concurrent use by many sessions.
type RoomStore interface {
	// Connection management
	Ping(ctx context.Context) error
	Close() error

	// CreateRoom creates an empty room if and only if code is unused.
	CreateRoom(ctx context.Context, code, name string) (*models.Room, error)
	// RoomExists reports whether code references a room.
	RoomExists(ctx context.Context, code string) (bool, error)
	// GetRoom returns room metadata.
	GetRoom(ctx context.Context, code string) (*models.Room, error)

	// AppendMessage atomically appends msg to the room's log, filling in
	// ID, Timestamp and Seq. Appending an ID that is already in the log is a
	// no-op that reports the originally committed Seq and Timestamp.
	AppendMessage(ctx context.Context, code string, msg *models.Message) error
	// FetchMessages returns messages with Seq > afterSeq ordered by
	// (Timestamp, Seq). afterSeq 0 returns the whole log.
	FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error)
}

// committer is implemented by backends that can tell a newly committed
// message from an idempotent retry of a known ID.
type committer interface {
	appendMessage(ctx context.Context, code string, msg *models.Message) (committed bool, err error)
}

// prepareMessage validates msg and fills the sender-side fields.
func prepareMessage(code string, msg *models.Message) error {
	if err := models.ValidateCode(code); err != nil {
		return err
	}
	if err := models.ValidateMessage(msg); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	msg.RoomCode = code
	return nil
}

// prepareRoom validates the inputs of CreateRoom.
func prepareRoom(code, name string) error {
	if err := models.ValidateCode(code); err != nil {
		return err
	}
	return models.ValidateRoomName(name)
}

// unavailable wraps a backend error as retryable.
func unavailable(op string, err error) error {
	return &OpError{Op: op, Kind: ErrUnavailable, Err: err}
}

// OpError carries the failing operation, the store error kind and the cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Is matches the store error kind.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap exposes the backend cause.
func (e *OpError) Unwrap() error {
	return e.Err
}
