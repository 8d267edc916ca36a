package model

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// VerificationCodeLength is the exact length of every participant code.
const VerificationCodeLength = 4

// ValidCodeLength reports whether code has exactly VerificationCodeLength
// characters. Multi-byte characters count once.
func ValidCodeLength(code string) bool {
	return utf8.RuneCountInString(code) == VerificationCodeLength
}

// DefaultMessageType is used when a sender does not tag a message.
const DefaultMessageType = "text"

// User represents a user known to the relay
type User struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username,omitempty"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RequestStatus is the lifecycle state of a ChatRequest
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// ChatRequest proposes a session between two users
type ChatRequest struct {
	ID               uuid.UUID     `json:"id"`
	FromUserID       uuid.UUID     `json:"from_user_id"`
	ToUserID         uuid.UUID     `json:"to_user_id"`
	VerificationCode string        `json:"verification_code"`
	Status           RequestStatus `json:"status"`
	ExpiresAt        time.Time     `json:"code_expires_at"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Lapsed reports whether a pending request has passed its expiry at now.
func (r ChatRequest) Lapsed(now time.Time) bool {
	return r.Status == RequestPending && !now.Before(r.ExpiresAt)
}

// Message is an opaque, immutable blob inside a ChatSession
type Message struct {
	ID               uuid.UUID `json:"id"`
	SessionID        uuid.UUID `json:"chat_id"`
	SenderID         uuid.UUID `json:"sender_id"`
	EncryptedContent string    `json:"encrypted_content"`
	MessageType      string    `json:"message_type"`
	CreatedAt        time.Time `json:"created_at"`
}
