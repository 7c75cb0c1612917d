package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCode(t *testing.T) {
	tests := []struct {
		code string
		err  error
	}{
		{"LOBBY", nil},
		{"a1_b-2", nil},
		{strings.Repeat("A", MaxCodeLength), nil},
		{"", ErrCodeEmpty},
		{"has space", ErrCodeInvalid},
		{"emoji🙂", ErrCodeInvalid},
		{strings.Repeat("A", MaxCodeLength+1), ErrCodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.err, ValidateCode(tt.code))
		})
	}
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateRoomName("Lobby"))
	assert.Equal(t, ErrRoomNameEmpty, ValidateRoomName(" \t"))
	assert.Equal(t, ErrRoomNameLong, ValidateRoomName(strings.Repeat("x", MaxRoomNameLength+1)))

	assert.NoError(t, ValidateAuthor("Zoë"))
	assert.Equal(t, ErrAuthorEmpty, ValidateAuthor(""))
	assert.Equal(t, ErrAuthorTooLong, ValidateAuthor(strings.Repeat("x", MaxAuthorLength+1)))
	assert.Equal(t, ErrInvalidUTF8, ValidateAuthor("bad\xff"))

	assert.NoError(t, ValidateBody("hello"))
	assert.Equal(t, ErrBodyEmpty, ValidateBody("\n"))
	assert.Equal(t, ErrBodyTooLong, ValidateBody(strings.Repeat("x", MaxBodyLength+1)))
	assert.Equal(t, ErrInvalidUTF8, ValidateBody("\xc3\x28"))
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage(&Message{Author: "alice", Body: "hi"}))
	assert.NoError(t, ValidateMessage(&Message{ID: "01HZX3J6Q7K9V2B8N4M5P6R7S8", Author: "alice", Body: "hi"}))
	assert.Equal(t, ErrMessageID, ValidateMessage(&Message{ID: "not/valid", Author: "alice", Body: "hi"}))
	assert.Equal(t, ErrAuthorEmpty, ValidateMessage(&Message{Body: "hi"}))
	assert.Equal(t, ErrBodyEmpty, ValidateMessage(&Message{Author: "alice"}))
}

func TestValidationErrorsAreInvalidInput(t *testing.T) {
	for _, err := range []error{
		ErrCodeEmpty, ErrCodeInvalid, ErrRoomNameEmpty, ErrRoomNameLong,
		ErrAuthorEmpty, ErrAuthorTooLong, ErrBodyEmpty, ErrBodyTooLong,
		ErrInvalidUTF8, ErrMessageID,
	} {
		assert.True(t, errors.Is(err, ErrInvalidInput), err.Error())
	}
}
