package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aiox-platform/quotaguard/internal/api"
)

type contextKey string

const UserIDKey contextKey = "user_id"

const (
	// UserIDHeader carries the caller identity resolved by the upstream
	// gateway. This service does not authenticate users itself.
	UserIDHeader = "X-User-ID"
	// AdminKeyHeader carries the shared secret for administrative routes.
	AdminKeyHeader = "X-Admin-Key"
)

// Middleware resolves the caller's user ID from UserIDHeader and stores it
// in the request context. Requests without a valid ID get 401.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if raw == "" {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			api.HandleError(w, api.ErrInvalidIdentity)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the caller set by Middleware.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok && userID != uuid.Nil
}

// AdminKey guards administrative routes with a shared secret. An empty
// expected key disables the routes entirely.
func AdminKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				api.HandleError(w, api.ErrForbidden)
				return
			}

			got := r.Header.Get(AdminKeyHeader)
			if got == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				api.HandleError(w, api.ErrInvalidAdminKey)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
