package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/beatmart/chatsync/internal/bus"
	"github.com/beatmart/chatsync/internal/notify"
	"github.com/beatmart/chatsync/internal/realtime"
	"github.com/beatmart/chatsync/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	data       store.DataStore
	redis      *store.RedisStore
	bus        bus.Bus
	hub        *realtime.Hub
	notifier   *notify.Dispatcher
	signSecret string
	logger     zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies. redis
// and notifier may be nil; unread counts and notifications degrade to
// no-ops without them.
func NewHandler(data store.DataStore, redis *store.RedisStore, b bus.Bus, hub *realtime.Hub, notifier *notify.Dispatcher, signSecret string, logger zerolog.Logger) *Handler {
	return &Handler{
		data:       data,
		redis:      redis,
		bus:        b,
		hub:        hub,
		notifier:   notifier,
		signSecret: signSecret,
		logger:     logger,
	}
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

// sanitizeNickname trims and limits a nickname to 50 characters,
// removing control characters.
func sanitizeNickname(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 50 {
		name = name[:50]
	}

	return name
}
