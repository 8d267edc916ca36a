package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/model"
)

// Event payloads carried in the realtime envelope.

type ChatRequestEvent struct {
	RequestID        uuid.UUID  `json:"request_id"`
	FromUser         model.User `json:"from_user"`
	VerificationCode string     `json:"verification_code"`
}

type ChatAcceptedEvent struct {
	ChatID uuid.UUID         `json:"chat_id"`
	Chat   model.ChatSession `json:"chat"`
}

type MessageEvent struct {
	model.Message
	Sender model.User `json:"sender"`
}

type VerificationRequiredEvent struct {
	ChatID   uuid.UUID `json:"chat_id"`
	Deadline time.Time `json:"deadline"`
}

type ChatVerifiedEvent struct {
	ChatID     uuid.UUID `json:"chat_id"`
	VerifiedBy uuid.UUID `json:"verified_by"`
}

type ChatClearedEvent struct {
	ChatID uuid.UUID `json:"chat_id"`
}

type DeleteRequestedEvent struct {
	ChatID      uuid.UUID `json:"chat_id"`
	RequesterID uuid.UUID `json:"requester_id"`
}

type ChatDeletedEvent struct {
	ChatID uuid.UUID `json:"chat_id"`
}

type ChatDestroyedEvent struct {
	ChatID uuid.UUID `json:"chat_id"`
	Reason string    `json:"reason"`
}

// ErrorEvent answers a rejected inbound frame.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
