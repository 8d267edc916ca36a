package handlers

import (
	"net/http"

	"github.com/synerchat/server/internal/middleware"
)

// HandleMe handles GET /me (protected). Returns the authenticated user.
func HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, user)
}
