package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatroom/internal/models"
)

// RedisStore keeps each room as a hash plus a sorted set of messages scored by Seq.
type RedisStore struct {
	client     *redis.Client
	messageTTL time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithMessageTTL expires room keys ttl after the last append. Zero keeps them forever.
func WithMessageTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.messageTTL = ttl
	}
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable("connect", err)
	}

	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client for shared infrastructure such as rate limiting.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// The {code} hash tag keeps all keys of one room in the same cluster slot.
func roomKey(code string) string {
	return fmt.Sprintf("room:{%s}", code)
}

func roomMessagesKey(code string) string {
	return fmt.Sprintf("room:{%s}:messages", code)
}

func roomIDsKey(code string) string {
	return fmt.Sprintf("room:{%s}:ids", code)
}

// createRoomScript creates the room hash only if it is absent, with the
// retention TTL in ms when ARGV[3] is positive.
var createRoomScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'name', ARGV[1], 'created_at', ARGV[2], 'seq', 0)

	local ttl = tonumber(ARGV[3])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
	end
	return 1
`)

// appendScript commits one message. Returns {seq, ts, committed}; seq is -1
// when the room does not exist. A message ID seen before returns its original
// {seq, ts} with committed 0.
var appendScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {-1, 0, 0}
	end

	local prev = redis.call('HGET', KEYS[3], ARGV[1])
	if prev then
		local sep = string.find(prev, ':', 1, true)
		return {tonumber(string.sub(prev, 1, sep - 1)), tonumber(string.sub(prev, sep + 1)), 0}
	end

	local seq = redis.call('HINCRBY', KEYS[1], 'seq', 1)
	redis.call('ZADD', KEYS[2], seq, ARGV[2])
	redis.call('HSET', KEYS[3], ARGV[1], seq .. ':' .. ARGV[3])

	local ttl = tonumber(ARGV[4])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
		redis.call('PEXPIRE', KEYS[2], ttl)
		redis.call('PEXPIRE', KEYS[3], ttl)
	end

	return {seq, tonumber(ARGV[3]), 1}
`)

// CreateRoom creates a room unless the code is taken.
func (s *RedisStore) CreateRoom(ctx context.Context, code, name string) (*models.Room, error) {
	if err := prepareRoom(code, name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	created, err := createRoomScript.Run(ctx, s.client,
		[]string{roomKey(code)},
		name, now.UnixMilli(), s.messageTTL.Milliseconds(),
	).Int()
	if err != nil {
		return nil, unavailable("create room", err)
	}
	if created == 0 {
		return nil, ErrAlreadyExists
	}

	return &models.Room{
		Code:      code,
		Name:      name,
		CreatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// RoomExists checks whether the room hash exists.
func (s *RedisStore) RoomExists(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, roomKey(code)).Result()
	if err != nil {
		return false, unavailable("room exists", err)
	}
	return n > 0, nil
}

// GetRoom reads the room hash.
func (s *RedisStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	fields, err := s.client.HGetAll(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, unavailable("get room", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	createdMs, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	count, _ := strconv.ParseInt(fields["seq"], 10, 64)

	return &models.Room{
		Code:         code,
		Name:         fields["name"],
		CreatedAt:    time.UnixMilli(createdMs).UTC(),
		MessageCount: count,
	}, nil
}

// AppendMessage runs the append script, which Redis executes atomically.
func (s *RedisStore) AppendMessage(ctx context.Context, code string, msg *models.Message) error {
	_, err := s.appendMessage(ctx, code, msg)
	return err
}

func (s *RedisStore) appendMessage(ctx context.Context, code string, msg *models.Message) (bool, error) {
	if err := prepareMessage(code, msg); err != nil {
		return false, err
	}

	// Seq lives in the sorted set score, not in the stored member.
	stored := *msg
	stored.Seq = 0
	data, err := json.Marshal(stored)
	if err != nil {
		return false, err
	}

	result, err := appendScript.Run(ctx, s.client,
		[]string{roomKey(code), roomMessagesKey(code), roomIDsKey(code)},
		msg.ID, string(data), msg.Timestamp, s.messageTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, unavailable("append message", err)
	}
	if len(result) != 3 {
		return false, unavailable("append message", fmt.Errorf("unexpected script reply length %d", len(result)))
	}
	if result[0] < 0 {
		return false, ErrNotFound
	}

	msg.Seq = result[0]
	msg.Timestamp = result[1]
	return result[2] == 1, nil
}

// FetchMessages reads the log suffix and the room's existence in one transaction.
func (s *RedisStore) FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error) {
	var (
		existsCmd *redis.IntCmd
		rangeCmd  *redis.ZSliceCmd
	)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		existsCmd = pipe.Exists(ctx, roomKey(code))
		rangeCmd = pipe.ZRangeByScoreWithScores(ctx, roomMessagesKey(code), &redis.ZRangeBy{
			Min: fmt.Sprintf("(%d", afterSeq), // exclusive
			Max: "+inf",
		})
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("fetch messages", err)
	}
	if existsCmd.Val() == 0 {
		return nil, ErrNotFound
	}

	results := rangeCmd.Val()
	messages := make([]models.Message, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			return nil, fmt.Errorf("decode message in room %s: %w", code, err)
		}
		msg.Seq = int64(z.Score)
		messages = append(messages, msg)
	}

	models.SortMessages(messages)
	return messages, nil
}
