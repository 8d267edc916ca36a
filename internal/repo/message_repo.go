package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/model"
)

type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo instance
func NewMessageRepo(db *sql.DB) MessageRepo {
	return &messageRepo{db: db}
}

// CreateMessage stores an opaque message blob
func (r *messageRepo) CreateMessage(ctx context.Context, sessionID, senderID uuid.UUID, content, messageType string) (model.Message, error) {
	msg := model.Message{
		SessionID:        sessionID,
		SenderID:         senderID,
		EncryptedContent: content,
		MessageType:      messageType,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, encrypted_content, message_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, sessionID, senderID, content, messageType).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// DeleteMessagesForSession removes every message of a session and returns how many were removed.
func (r *messageRepo) DeleteMessagesForSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ListMessages returns the newest limit messages, oldest first.
func (r *messageRepo) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, encrypted_content, message_type, created_at
		FROM (
			SELECT id, chat_id, sender_id, encrypted_content, message_type, created_at
			FROM messages
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.EncryptedContent, &m.MessageType, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
