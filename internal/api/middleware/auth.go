package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/beatmart/chatsync/internal/models"
	"github.com/beatmart/chatsync/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

// AuthMiddleware resolves the bearer token to a profile and injects it
// into the request context. Tokens are opaque user IDs issued by /login.
type AuthMiddleware struct {
	data store.DataStore
}

// NewAuthMiddleware creates the auth middleware over the given store.
func NewAuthMiddleware(data store.DataStore) *AuthMiddleware {
	return &AuthMiddleware{data: data}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			authError(w, "authentication required")
			return
		}

		userID, err := uuid.Parse(token)
		if err != nil {
			authError(w, "invalid token")
			return
		}

		profile, err := m.data.GetProfile(r.Context(), userID)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "database error"})
			return
		}
		if profile == nil {
			authError(w, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, profile)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserFromContext returns the authenticated profile, or nil.
func GetUserFromContext(ctx context.Context) *models.Profile {
	profile, _ := ctx.Value(userContextKey).(*models.Profile)
	return profile
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	// Websocket clients cannot set headers from browsers; accept a query param.
	return r.URL.Query().Get("token")
}

func authError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
