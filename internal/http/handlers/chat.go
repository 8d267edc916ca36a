package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/synerchat/server/internal/chat"
	"github.com/synerchat/server/internal/middleware"
)

// ChatHandler serves the /chat API.
type ChatHandler struct {
	svc      *chat.Service
	consent  *chat.ConsentTracker
	validate *validator.Validate
	logger   *slog.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(svc *chat.Service, consent *chat.ConsentTracker, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		svc:      svc,
		consent:  consent,
		validate: newValidator(),
		logger:   logger.With("component", "chat_handler"),
	}
}

type searchUsersRequest struct {
	Query string `json:"query" validate:"required,max=100"`
}

type chatRequestRequest struct {
	ToUserID         string `json:"to_user_id" validate:"required,uuid"`
	VerificationCode string `json:"verification_code" validate:"required,len=4"`
}

type acceptRequestRequest struct {
	RequestID        string `json:"request_id" validate:"required,uuid"`
	VerificationCode string `json:"verification_code" validate:"required,len=4"`
}

type rejectRequestRequest struct {
	RequestID string `json:"request_id" validate:"required,uuid"`
}

type verifyRequest struct {
	ChatID           string `json:"chat_id" validate:"required,uuid"`
	VerificationCode string `json:"verification_code" validate:"required,len=4"`
}

// callerID returns the authenticated user. AuthMiddleware guarantees it on
// every /chat route.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
	}
	return id, ok
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "chat_id must be a valid id")
		return uuid.Nil, false
	}
	return id, true
}

// HandleSearchUsers handles POST /chat/search-users
func (h *ChatHandler) HandleSearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req searchUsersRequest
	if msg, ok := decodeAndValidate(h.validate, r, &req); !ok {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	users, err := h.svc.SearchUsers(r.Context(), userID, req.Query)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"users": users})
}

// HandleCreateRequest handles POST /chat/request
func (h *ChatHandler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req chatRequestRequest
	if msg, ok := decodeAndValidate(h.validate, r, &req); !ok {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := h.svc.CreateRequest(r.Context(), userID, uuid.MustParse(req.ToUserID), req.VerificationCode)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"request_id": created.ID,
		"status":     "sent",
	})
}

// HandlePendingRequests handles GET /chat/requests
func (h *ChatHandler) HandlePendingRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	reqs, err := h.svc.PendingRequests(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// HandleAcceptRequest handles POST /chat/accept
func (h *ChatHandler) HandleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req acceptRequestRequest
	if msg, ok := decodeAndValidate(h.validate, r, &req); !ok {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	session, err := h.svc.AcceptRequest(r.Context(), uuid.MustParse(req.RequestID), userID, req.VerificationCode)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"chat_id": session.ID,
		"status":  "accepted",
	})
}

// HandleRejectRequest handles POST /chat/reject
func (h *ChatHandler) HandleRejectRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req rejectRequestRequest
	if msg, ok := decodeAndValidate(h.validate, r, &req); !ok {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.svc.RejectRequest(r.Context(), uuid.MustParse(req.RequestID), userID); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// HandleActiveChats handles GET /chat/active
func (h *ChatHandler) HandleActiveChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	chats, err := h.svc.ActiveChats(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// HandleMessages handles GET /chat/messages/{chatID}?limit=n
func (h *ChatHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := h.svc.Messages(r.Context(), chatID, userID, limit)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleVerify handles POST /chat/verify
func (h *ChatHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if msg, ok := decodeAndValidate(h.validate, r, &req); !ok {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	session, err := h.svc.Verify(r.Context(), uuid.MustParse(req.ChatID), userID, req.VerificationCode)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":            "verified",
		"next_verification": session.NextVerificationAt,
	})
}

// HandleClear handles POST /chat/clear/{chatID}
func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if err := h.consent.ClearMessages(r.Context(), chatID, userID); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleDelete handles POST /chat/delete/{chatID}. The chat is destroyed once
// both participants asked for it.
func (h *ChatHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	destroyed, err := h.consent.RequestDeletion(r.Context(), chatID, userID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	if destroyed {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted", "message": "Chat deleted"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "pending", "message": "Waiting for other user's consent"})
}
