package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beatmart/chatsync/internal/api/middleware"
	"github.com/beatmart/chatsync/internal/metrics"
	"github.com/beatmart/chatsync/internal/models"
)

const (
	maxMessageLen      = 4096
	defaultMessagePage = 50
	maxMessagePage     = 200
)

// MessagesResponse represents the message history response.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// ListMessages returns one ascending page of a conversation's history.
// Query params: limit (page size), before (exclusive message ID cursor).
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	member, err := h.data.IsParticipant(r.Context(), conversationID, caller.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !member {
		h.Error(w, http.StatusForbidden, "not a participant")
		return
	}

	limit := defaultMessagePage
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}
	before := r.URL.Query().Get("before")

	messages, hasMore, err := h.data.ListMessages(r.Context(), conversationID, limit, before)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, MessagesResponse{Messages: messages, HasMore: hasMore})
}

// PostMessageRequest represents the send message request body.
type PostMessageRequest struct {
	Body       string `json:"body"`
	ReplyToID  string `json:"reply_to,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	Attachment bool   `json:"attachment,omitempty"`
}

// PostMessage stores a message, bumps the conversation, publishes the
// insert event, and dispatches a notification to the counterpart.
// Writes are idempotent per (conversation, client_id).
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	member, err := h.data.IsParticipant(r.Context(), conversationID, caller.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !member {
		h.Error(w, http.StatusForbidden, "not a participant")
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Body == "" && req.ReplyToID == "" {
		h.Error(w, http.StatusBadRequest, "body or reply_to is required")
		return
	}
	if len(req.Body) > maxMessageLen {
		h.Error(w, http.StatusUnprocessableEntity, "body too long (max 4096 bytes)")
		return
	}

	if req.ReplyToID != "" {
		parent, err := h.data.GetMessage(r.Context(), conversationID, req.ReplyToID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if parent == nil {
			h.Error(w, http.StatusUnprocessableEntity, "reply_to does not reference a message in this conversation")
			return
		}
	}

	msg := &models.Message{
		ClientID:       req.ClientID,
		ConversationID: conversationID,
		FromID:         caller.ID,
		Body:           req.Body,
		ReplyToID:      req.ReplyToID,
		HasAttachment:  req.Attachment,
	}

	stored, replayed, err := h.data.InsertMessage(r.Context(), msg)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	if replayed {
		metrics.MessagesReplayed.Inc()
		h.JSON(w, http.StatusOK, stored)
		return
	}
	metrics.MessagesSent.Inc()

	if err := h.data.TouchConversation(r.Context(), conversationID, stored.Body); err != nil {
		h.logger.Warn().Err(err).Msg("conversation touch failed")
	}

	event := &models.Event{
		Type:           models.EventMessageInsert,
		ConversationID: conversationID,
		Message:        stored,
	}
	if err := h.bus.Publish(r.Context(), event); err != nil {
		h.logger.Error().Err(err).Msg("event publish failed")
	} else {
		metrics.EventsPublished.Inc()
	}

	h.notifyCounterparts(r, conversationID, caller, stored)

	h.JSON(w, http.StatusCreated, stored)
}

// notifyCounterparts dispatches a fire-and-forget notification to every
// other participant.
func (h *Handler) notifyCounterparts(r *http.Request, conversationID uuid.UUID, sender *models.Profile, msg *models.Message) {
	if h.notifier == nil {
		return
	}

	participants, err := h.data.ParticipantIDs(r.Context(), conversationID)
	if err != nil {
		h.logger.Warn().Err(err).Msg("participant lookup for notification failed")
		return
	}

	for _, userID := range participants {
		if userID == sender.ID {
			continue
		}
		h.notifier.Dispatch(&models.Notification{
			UserID:  userID,
			Type:    "chat.message",
			Message: sender.Nickname + " sent you a message",
			Link:    "/chat/" + conversationID.String(),
		})
	}
}
