package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/auth"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/repo"
)

type contextKey string

const (
	userKey   contextKey = "user"
	userIDKey contextKey = "user_id"
)

// tokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter that browsers use for WebSocket upgrades.
func tokenFromRequest(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if q := strings.TrimSpace(r.URL.Query().Get("token")); q != "" {
			return q, ""
		}
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "invalid authorization header format"
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", "missing token"
	}
	return tokenString, ""
}

// AuthMiddleware validates JWT tokens, loads user from DB, and attaches user to context
func AuthMiddleware(jwtService *auth.JWTService, userRepo repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, problem := tokenFromRequest(r)
			if problem != "" {
				respondWithError(w, http.StatusUnauthorized, problem)
				return
			}

			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := userRepo.GetByID(r.Context(), claims.UserID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "user not found")
				return
			}

			ctx := WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUser attaches an authenticated user to ctx.
func WithUser(ctx context.Context, user model.User) context.Context {
	ctx = context.WithValue(ctx, userKey, &user)
	return context.WithValue(ctx, userIDKey, user.ID)
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
