package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synerchat/server/internal/auth"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/repo"
)

const testSecret = "test-jwt-secret-at-least-32-characters-long"

func TestAuthMiddleware(t *testing.T) {
	store := repo.NewMemoryStore(nil)
	user, err := store.Users.Create(context.Background(), "alice@example.com", "alice", "")
	require.NoError(t, err)

	jwtService := auth.NewJWTService(testSecret)
	token, err := jwtService.SignAccessToken(user.ID, user.Email, time.Hour)
	require.NoError(t, err)
	ghost, err := jwtService.SignAccessToken(uuid.New(), "ghost@example.com", time.Hour)
	require.NoError(t, err)

	var seen model.User
	protected := AuthMiddleware(jwtService, store.Users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := GetUser(r.Context())
		require.True(t, ok)
		id, ok := GetUserID(r.Context())
		require.True(t, ok)
		assert.Equal(t, u.ID, id)
		seen = *u
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantError  string
	}{
		{name: "bearer header", header: "Bearer " + token, wantStatus: http.StatusNoContent},
		{name: "query token", query: "?token=" + token, wantStatus: http.StatusNoContent},
		{name: "missing", wantStatus: http.StatusUnauthorized, wantError: "missing authorization header"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantError: "invalid authorization header format"},
		{name: "empty bearer", header: "Bearer  ", wantStatus: http.StatusUnauthorized, wantError: "missing token"},
		{name: "garbage token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantError: "invalid or expired token"},
		{name: "unknown user", header: "Bearer " + ghost, wantStatus: http.StatusUnauthorized, wantError: "user not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = model.User{}
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, user.ID, seen.ID)
		})
	}
}
