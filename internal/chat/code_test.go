package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewRoomCode()
		assert.Len(t, code, CodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected rune %q in %s", r, code)
		}
		assert.NoError(t, models.ValidateCode(code))
		seen[code] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestCreateWithGeneratedCodeRetriesCollisions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	taken := "TAKEN000"
	_, err := st.CreateRoom(ctx, taken, "room")
	require.NoError(t, err)

	codes := []string{taken, taken, "FREE0000"}
	orig := generateCode
	generateCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	defer func() { generateCode = orig }()

	s, err := CreateWithGeneratedCode(ctx, st, "lounge", "alice")
	require.NoError(t, err)
	assert.Equal(t, "FREE0000", s.RoomCode())
}

func TestCreateWithGeneratedCodeGivesUp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.CreateRoom(ctx, "TAKEN000", "room")
	require.NoError(t, err)

	orig := generateCode
	generateCode = func() string { return "TAKEN000" }
	defer func() { generateCode = orig }()

	_, err = CreateWithGeneratedCode(ctx, st, "lounge", "alice")
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}
