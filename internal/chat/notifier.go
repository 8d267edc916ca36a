package chat

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Notifier reaches users that have no live connection.
type Notifier interface {
	NotifyOffline(ctx context.Context, userID, chatID uuid.UUID) error
}

// LogNotifier only records that a push would have been sent.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyOffline logs the skipped push.
func (n LogNotifier) NotifyOffline(ctx context.Context, userID, chatID uuid.UUID) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "recipient offline, push skipped", "user_id", userID, "chat_id", chatID)
	return nil
}
