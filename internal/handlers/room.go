package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatroom/internal/chat"
	"github.com/eldtechnologies/chatroom/internal/models"
)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Code string `json:"code,omitempty"` // generated when empty
	Name string `json:"name"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	MessageCount int64  `json:"message_count"`
}

// PostMessageRequest represents the post message request.
type PostMessageRequest struct {
	ID        string `json:"id,omitempty"` // client ULID, makes retries idempotent
	Author    string `json:"author"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts,omitempty"` // Unix ms, defaults to receive time
}

// PostMessageResponse represents the post message response.
type PostMessageResponse struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"ts"`
}

// RoomMessagesResponse represents the get room messages response.
type RoomMessagesResponse struct {
	Room     string           `json:"room"`
	Messages []models.Message `json:"messages"`
}

func roomResponse(room *models.Room) RoomResponse {
	return RoomResponse{
		Code:         room.Code,
		Name:         room.Name,
		CreatedAt:    room.CreatedAt.UTC().Format(time.RFC3339),
		MessageCount: room.MessageCount,
	}
}

// CreateRoom handles room creation.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = sanitizeName(req.Name)

	var (
		room *models.Room
		err  error
	)
	if req.Code == "" {
		room, err = chat.CreateRoomWithGeneratedCode(r.Context(), h.store, req.Name)
	} else {
		room, err = h.store.CreateRoom(r.Context(), req.Code, req.Name)
	}
	if err != nil {
		h.StoreError(w, r, err)
		return
	}

	h.logger.Info().
		Str("room", room.Code).
		Str("backend", h.backend).
		Msg("room created")

	h.JSON(w, http.StatusCreated, roomResponse(room))
}

// GetRoom handles fetching room metadata.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := models.ValidateCode(code); err != nil {
		h.StoreError(w, r, err)
		return
	}

	room, err := h.store.GetRoom(r.Context(), code)
	if err != nil {
		h.StoreError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, roomResponse(room))
}

// GetRoomMessages handles fetching the log of a room, optionally only the
// messages after a sequence number.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := models.ValidateCode(code); err != nil {
		h.StoreError(w, r, err)
		return
	}

	var after int64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		a, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil || a < 0 {
			h.Error(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = a
	}

	messages, err := h.store.FetchMessages(r.Context(), code, after)
	if err != nil {
		h.StoreError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, RoomMessagesResponse{
		Room:     code,
		Messages: messages,
	})
}

// PostMessage handles appending a message to a room.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Timestamp < 0 {
		h.Error(w, http.StatusBadRequest, "ts must be a Unix timestamp in milliseconds")
		return
	}

	msg := &models.Message{
		ID:        req.ID,
		Author:    sanitizeName(req.Author),
		Body:      req.Body,
		Timestamp: req.Timestamp,
	}
	if err := h.store.AppendMessage(r.Context(), code, msg); err != nil {
		h.StoreError(w, r, err)
		return
	}

	if err := h.notifier.Notify(r.Context(), code, msg.Seq); err != nil {
		// Viewers still receive the message on their next poll
		h.logger.Warn().Err(err).Str("room", code).Msg("notify failed")
	}

	h.JSON(w, http.StatusCreated, PostMessageResponse{
		ID:        msg.ID,
		Seq:       msg.Seq,
		Timestamp: msg.Timestamp,
	})
}
