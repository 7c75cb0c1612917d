package models

import "time"

// Room is a chat channel addressed by a short code.
type Room struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int64     `json:"message_count"`
}
