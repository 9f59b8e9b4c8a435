package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beatmart/chatsync/internal/api/middleware"
	"github.com/beatmart/chatsync/internal/metrics"
	"github.com/beatmart/chatsync/internal/models"
)

// ConversationsResponse represents the conversation list response.
type ConversationsResponse struct {
	Conversations []models.ConversationView `json:"conversations"`
}

// ListConversations returns the caller's conversations, most recent
// activity first, with unread counts filled from the read watermarks.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	views, err := h.data.ListConversations(r.Context(), caller.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	if h.redis != nil {
		for i := range views {
			watermark, err := h.redis.GetWatermark(r.Context(), caller.ID, views[i].ID)
			if err != nil {
				// Unread counts are best-effort
				h.logger.Warn().Err(err).Msg("watermark lookup failed")
				continue
			}
			unread, err := h.data.CountMessagesAfter(r.Context(), views[i].ID, watermark, caller.ID)
			if err != nil {
				h.logger.Warn().Err(err).Msg("unread count failed")
				continue
			}
			views[i].Unread = unread
		}
	}

	if views == nil {
		views = []models.ConversationView{}
	}
	h.JSON(w, http.StatusOK, ConversationsResponse{Conversations: views})
}

// CreateConversationRequest represents the get-or-create request body.
type CreateConversationRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// CreateConversationResponse represents the get-or-create response.
type CreateConversationResponse struct {
	Conversation models.Conversation `json:"conversation"`
	Created      bool                `json:"created"`
}

// CreateConversation gets or creates the two-party conversation between
// the caller and the target user.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UserID == uuid.Nil {
		h.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.UserID == caller.ID {
		h.Error(w, http.StatusUnprocessableEntity, "cannot start a chat with yourself")
		return
	}

	target, err := h.data.GetProfile(r.Context(), req.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if target == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	conv, created, err := h.data.GetOrCreateConversation(r.Context(), caller.ID, req.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	if created {
		metrics.ConversationsCreated.Inc()
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.JSON(w, status, CreateConversationResponse{Conversation: *conv, Created: created})
}

// MarkReadRequest represents the read watermark request body.
type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

// MarkRead advances the caller's read watermark for a conversation.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
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

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MessageID == "" {
		h.Error(w, http.StatusBadRequest, "message_id is required")
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

	if h.redis == nil {
		// Watermarks are not tracked without Redis; accept and drop.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.redis.MarkRead(r.Context(), caller.ID, conversationID, req.MessageID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to record read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
