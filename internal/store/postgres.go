package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatroom/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("connect", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// CreateRoom inserts the room; a conflicting code inserts nothing.
func (s *PostgresStore) CreateRoom(ctx context.Context, code, name string) (*models.Room, error) {
	if err := prepareRoom(code, name); err != nil {
		return nil, err
	}

	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO NOTHING
		RETURNING code, name, created_at, message_count
	`, code, name).Scan(
		&room.Code,
		&room.Name,
		&room.CreatedAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyExists
		}
		return nil, unavailable("create room", err)
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return room, nil
}

// RoomExists checks whether a room row exists.
func (s *PostgresStore) RoomExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM rooms WHERE code = $1)
	`, code).Scan(&exists)
	if err != nil {
		return false, unavailable("room exists", err)
	}
	return exists, nil
}

// GetRoom retrieves a room by code.
func (s *PostgresStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT code, name, created_at, message_count
		FROM rooms WHERE code = $1
	`, code).Scan(
		&room.Code,
		&room.Name,
		&room.CreatedAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get room", err)
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return room, nil
}

// AppendMessage assigns the next per-room Seq under the room row lock and
// inserts the message in the same transaction, so commit order equals Seq order.
func (s *PostgresStore) AppendMessage(ctx context.Context, code string, msg *models.Message) error {
	_, err := s.appendMessage(ctx, code, msg)
	return err
}

func (s *PostgresStore) appendMessage(ctx context.Context, code string, msg *models.Message) (bool, error) {
	if err := prepareMessage(code, msg); err != nil {
		return false, err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var seq int64
		err := tx.QueryRow(ctx, `
			UPDATE rooms SET message_count = message_count + 1
			WHERE code = $1
			RETURNING message_count
		`, code).Scan(&seq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		var prevSeq, prevTs int64
		err = tx.QueryRow(ctx, `
			SELECT seq, ts FROM messages WHERE room_code = $1 AND id = $2
		`, code, msg.ID).Scan(&prevSeq, &prevTs)
		if err == nil {
			msg.Seq, msg.Timestamp = prevSeq, prevTs
			return errDuplicate
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO messages (room_code, seq, id, author, body, ts)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, code, seq, msg.ID, msg.Author, msg.Body, msg.Timestamp)
		if err != nil {
			return err
		}
		msg.Seq = seq
		return nil
	})
	return appendResult("append message", err)
}

// FetchMessages returns the log suffix after afterSeq.
func (s *PostgresStore) FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error) {
	exists, err := s.RoomExists(ctx, code)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_code, author, body, ts, seq
		FROM messages
		WHERE room_code = $1 AND seq > $2
		ORDER BY ts, seq
	`, code, afterSeq)
	if err != nil {
		return nil, unavailable("fetch messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.RoomCode,
			&msg.Author,
			&msg.Body,
			&msg.Timestamp,
			&msg.Seq,
		)
		if err != nil {
			return nil, unavailable("fetch messages", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("fetch messages", err)
	}

	return messages, nil
}

// errDuplicate rolls back an append whose message ID is already committed.
var errDuplicate = errors.New("duplicate message id")

// appendResult maps the outcome of an append transaction to store errors,
// reporting whether a new message was committed.
func appendResult(op string, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errDuplicate):
		return false, nil
	case errors.Is(err, ErrNotFound):
		return false, ErrNotFound
	default:
		return false, unavailable(op, err)
	}
}
