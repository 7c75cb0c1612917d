package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation limits
const (
	MaxCodeLength     = 32
	MaxRoomNameLength = 100
	MaxAuthorLength   = 50
	MaxBodyLength     = 4096
)

// ErrInvalidInput is the parent of every validation error.
var ErrInvalidInput = errors.New("invalid input")

// Validation errors
var (
	ErrCodeEmpty     = fmt.Errorf("%w: room code cannot be empty", ErrInvalidInput)
	ErrCodeInvalid   = fmt.Errorf("%w: room code must be 1-%d characters, alphanumeric with hyphens and underscores only", ErrInvalidInput, MaxCodeLength)
	ErrRoomNameEmpty = fmt.Errorf("%w: room name cannot be empty", ErrInvalidInput)
	ErrRoomNameLong  = fmt.Errorf("%w: room name exceeds maximum length", ErrInvalidInput)
	ErrAuthorEmpty   = fmt.Errorf("%w: display name cannot be empty", ErrInvalidInput)
	ErrAuthorTooLong = fmt.Errorf("%w: display name exceeds maximum length", ErrInvalidInput)
	ErrBodyEmpty     = fmt.Errorf("%w: message body cannot be empty", ErrInvalidInput)
	ErrBodyTooLong   = fmt.Errorf("%w: message body exceeds maximum length", ErrInvalidInput)
	ErrInvalidUTF8   = fmt.Errorf("%w: text contains invalid characters", ErrInvalidInput)
	ErrMessageID     = fmt.Errorf("%w: message id must be 1-64 characters, alphanumeric with hyphens and underscores only", ErrInvalidInput)
)

var (
	codeRegex      = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)
	messageIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

// ValidateCode validates a room code.
func ValidateCode(code string) error {
	if code == "" {
		return ErrCodeEmpty
	}
	if !codeRegex.MatchString(code) {
		return ErrCodeInvalid
	}
	return nil
}

// ValidateRoomName validates a room display name.
func ValidateRoomName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLength {
		return ErrRoomNameLong
	}
	if !utf8.ValidString(name) {
		return ErrInvalidUTF8
	}
	return nil
}

// ValidateAuthor validates a participant display name.
func ValidateAuthor(author string) error {
	if strings.TrimSpace(author) == "" {
		return ErrAuthorEmpty
	}
	if len(author) > MaxAuthorLength {
		return ErrAuthorTooLong
	}
	if !utf8.ValidString(author) {
		return ErrInvalidUTF8
	}
	return nil
}

// ValidateBody validates message content.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrBodyEmpty
	}
	if len(body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	if !utf8.ValidString(body) {
		return ErrInvalidUTF8
	}
	return nil
}

// ValidateMessage validates everything a store needs before appending.
func ValidateMessage(msg *Message) error {
	if msg.ID != "" && !messageIDRegex.MatchString(msg.ID) {
		return ErrMessageID
	}
	if err := ValidateAuthor(msg.Author); err != nil {
		return err
	}
	return ValidateBody(msg.Body)
}
