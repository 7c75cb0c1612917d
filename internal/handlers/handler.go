package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatroom/internal/chat"
	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/notify"
	"github.com/eldtechnologies/chatroom/internal/store"
)

// Pinger is a dependency reported by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store        store.RoomStore
	backend      string
	notifier     notify.Notifier
	logger       zerolog.Logger
	pollInterval time.Duration
	checks       map[string]Pinger
}

// Option configures a Handler.
type Option func(*Handler)

// WithNotifier wakes WebSocket viewers when messages are posted.
func WithNotifier(n notify.Notifier) Option {
	return func(h *Handler) {
		h.notifier = n
	}
}

// WithPollInterval sets the poll interval of server-side WebSocket sessions.
func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithHealthCheck adds a named dependency to the health endpoint.
func WithHealthCheck(name string, p Pinger) Option {
	return func(h *Handler) {
		h.checks[name] = p
	}
}

// NewHandler creates a new Handler over the given room store.
func NewHandler(st store.RoomStore, backend string, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		store:        st,
		backend:      backend,
		notifier:     notify.NewLocal(),
		logger:       logger,
		pollInterval: chat.DefaultPollInterval,
		checks:       make(map[string]Pinger),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// StoreError maps a store or validation error to its HTTP status.
func (h *Handler) StoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		h.Error(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), models.ErrInvalidInput.Error()+": "))
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, store.ErrAlreadyExists):
		h.Error(w, http.StatusConflict, "room code already taken")
	case errors.Is(err, store.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		h.Error(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected store error")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeName trims the name and removes control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
}
