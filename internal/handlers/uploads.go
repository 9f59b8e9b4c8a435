package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/beatmart/chatsync/internal/api/middleware"
	"github.com/beatmart/chatsync/internal/signing"
)

const uploadURLTTL = 15 * time.Minute

// SignUploadRequest represents the signed-URL request body.
type SignUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// SignUploadResponse represents the signed-URL response.
type SignUploadResponse struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"` // Unix ms
}

// SignUpload issues a short-lived HMAC-signed upload URL for a message
// attachment. The storage backend verifying the signature is external.
func (h *Handler) SignUpload(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SignUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Filename == "" {
		h.Error(w, http.StatusBadRequest, "filename is required")
		return
	}

	expires := time.Now().Add(uploadURLTTL).UnixMilli()
	key := fmt.Sprintf("uploads/%s/%s-%s", caller.ID, ulid.Make(), req.Filename)
	sig := signing.Sign(h.signSecret, key, expires)

	h.JSON(w, http.StatusOK, SignUploadResponse{
		URL:       fmt.Sprintf("/storage/%s?expires=%d&sig=%s", key, expires, sig),
		ExpiresAt: expires,
	})
}
