package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict is returned when a compare-and-set on a request status loses.
	ErrStatusConflict = errors.New("request status changed concurrently")
	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("record already exists")
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	Create(ctx context.Context, email, username, profilePicture string) (model.User, error)
	Search(ctx context.Context, query string, excludeID uuid.UUID, limit int) ([]model.User, error)
}

// RequestRepo defines the interface for chat request repository operations
type RequestRepo interface {
	Create(ctx context.Context, fromUserID, toUserID uuid.UUID, code string, expiresAt time.Time) (model.ChatRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.ChatRequest, error)
	// UpdateStatus moves a request from one status to another and fails with
	// ErrStatusConflict when the stored status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.RequestStatus) error
	ListPendingForUser(ctx context.Context, toUserID uuid.UUID) ([]model.ChatRequest, error)
	// HasPendingBetween checks both directions between the two users.
	HasPendingBetween(ctx context.Context, userA, userB uuid.UUID) (bool, error)
}

// ChatRepo defines the interface for chat session repository operations
type ChatRepo interface {
	GetSessionByID(ctx context.Context, id uuid.UUID) (model.ChatSession, error)
	CreateSession(ctx context.Context, session model.ChatSession) (model.ChatSession, error)
	// DeleteSession removes the record and, by cascade, all of its messages.
	DeleteSession(ctx context.Context, id uuid.UUID) error
	UpdateSessionVerification(ctx context.Context, id uuid.UUID, verifiedAt, nextAt time.Time) error
	SetVerificationPending(ctx context.Context, id uuid.UUID, deadline time.Time) error
	// SetWantsDelete raises the consent flag of userID and returns the updated record.
	SetWantsDelete(ctx context.Context, id, userID uuid.UUID) (model.ChatSession, error)
	ListNonDestroyedSessions(ctx context.Context) ([]model.ChatSession, error)
	ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]model.ChatSession, error)
	FindSessionBetween(ctx context.Context, a, b uuid.UUID) (model.ChatSession, error)
}

// MessageRepo defines the interface for message repository operations
type MessageRepo interface {
	CreateMessage(ctx context.Context, sessionID, senderID uuid.UUID, content, messageType string) (model.Message, error)
	DeleteMessagesForSession(ctx context.Context, sessionID uuid.UUID) (int64, error)
	// ListMessages returns up to limit of the newest messages, oldest first.
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Message, error)
}

// Store bundles every repository the chat layer consumes.
type Store struct {
	Users    UserRepo
	Requests RequestRepo
	Chats    ChatRepo
	Messages MessageRepo
}

// NewPostgresStore wires the Postgres-backed repositories to db.
func NewPostgresStore(db *sql.DB) Store {
	return Store{
		Users:    NewUserRepo(db),
		Requests: NewRequestRepo(db),
		Chats:    NewChatRepo(db),
		Messages: NewMessageRepo(db),
	}
}
