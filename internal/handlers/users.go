package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/beatmart/chatsync/internal/api/middleware"
	"github.com/beatmart/chatsync/internal/metrics"
	"github.com/beatmart/chatsync/internal/models"
)

const searchLimit = 10

// LoginRequest represents the login request body.
type LoginRequest struct {
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// LoginResponse represents the login response.
type LoginResponse struct {
	Token   string         `json:"token"`
	Profile models.Profile `json:"profile"`
}

// Login exchanges a nickname for a session token, creating the profile
// on first sight. Dev-grade auth: the token is the user ID.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	nickname := sanitizeNickname(req.Nickname)
	if nickname == "" {
		h.Error(w, http.StatusBadRequest, "nickname is required")
		return
	}

	profile, err := h.data.GetProfileByNickname(r.Context(), nickname)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if profile == nil {
		profile, err = h.data.CreateProfile(r.Context(), nickname, req.AvatarURL)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to create profile")
			return
		}
	}

	h.JSON(w, http.StatusOK, LoginResponse{
		Token:   profile.ID.String(),
		Profile: *profile,
	})
}

// SearchUsersResponse represents the user search response.
type SearchUsersResponse struct {
	Users []models.Profile `json:"users"`
}

// SearchUsers handles free-text nickname search, excluding the caller.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		h.JSON(w, http.StatusOK, SearchUsersResponse{Users: []models.Profile{}})
		return
	}

	metrics.UserSearches.Inc()

	users, err := h.data.SearchProfiles(r.Context(), query, caller.ID, searchLimit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	if users == nil {
		users = []models.Profile{}
	}

	h.JSON(w, http.StatusOK, SearchUsersResponse{Users: users})
}
