package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatroom/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatroom.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatroom.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Immediate transactions take the write lock up front, so concurrent
	// appends queue on busy_timeout instead of failing on lock upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("connect", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// CreateRoom inserts the room unless the code is taken.
func (s *SQLiteStore) CreateRoom(ctx context.Context, code, name string) (*models.Room, error) {
	if err := prepareRoom(code, name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms (code, name, created_at, message_count)
		VALUES (?, ?, ?, 0)
	`, code, name, now)
	if err != nil {
		return nil, s.mapErr("create room", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, s.mapErr("create room", err)
	}
	if n == 0 {
		return nil, ErrAlreadyExists
	}

	return &models.Room{Code: code, Name: name, CreatedAt: now}, nil
}

// RoomExists checks whether a room row exists.
func (s *SQLiteStore) RoomExists(ctx context.Context, code string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM rooms WHERE code = ?)
	`, code).Scan(&exists)
	if err != nil {
		return false, s.mapErr("room exists", err)
	}
	return exists == 1, nil
}

// GetRoom retrieves a room by code.
func (s *SQLiteStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, created_at, message_count
		FROM rooms WHERE code = ?
	`, code).Scan(
		&room.Code,
		&room.Name,
		&room.CreatedAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, s.mapErr("get room", err)
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return room, nil
}

// AppendMessage bumps the room counter and inserts the message in one
// immediate transaction; SQLite serializes writers, so Seq follows commit order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, code string, msg *models.Message) error {
	_, err := s.appendMessage(ctx, code, msg)
	return err
}

func (s *SQLiteStore) appendMessage(ctx context.Context, code string, msg *models.Message) (bool, error) {
	if err := prepareMessage(code, msg); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.mapErr("append message", err)
	}
	defer tx.Rollback()

	var prevSeq, prevTs int64
	err = tx.QueryRowContext(ctx, `
		SELECT seq, ts FROM messages WHERE room_code = ? AND id = ?
	`, code, msg.ID).Scan(&prevSeq, &prevTs)
	if err == nil {
		msg.Seq, msg.Timestamp = prevSeq, prevTs
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, s.mapErr("append message", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE rooms SET message_count = message_count + 1 WHERE code = ?
	`, code)
	if err != nil {
		return false, s.mapErr("append message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT message_count FROM rooms WHERE code = ?
	`, code).Scan(&seq); err != nil {
		return false, s.mapErr("append message", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (room_code, seq, id, author, body, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, code, seq, msg.ID, msg.Author, msg.Body, msg.Timestamp)
	if err != nil {
		return false, s.mapErr("append message", err)
	}

	if err := tx.Commit(); err != nil {
		return false, s.mapErr("append message", err)
	}
	msg.Seq = seq
	return true, nil
}

// FetchMessages returns the log suffix after afterSeq.
func (s *SQLiteStore) FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error) {
	exists, err := s.RoomExists(ctx, code)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_code, author, body, ts, seq
		FROM messages
		WHERE room_code = ? AND seq > ?
		ORDER BY ts, seq
	`, code, afterSeq)
	if err != nil {
		return nil, s.mapErr("fetch messages", err)
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
			return nil, s.mapErr("fetch messages", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapErr("fetch messages", err)
	}

	return messages, nil
}

// mapErr reports lock contention and I/O failures as retryable.
func (s *SQLiteStore) mapErr(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrCantOpen:
			return unavailable(op, err)
		}
		return &OpError{Op: op, Kind: errSQLite, Err: err}
	}
	return unavailable(op, err)
}

// errSQLite marks non-transient SQLite failures such as constraint violations.
var errSQLite = errors.New("sqlite error")
