package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/synerchat/server/internal/db"
)

// RunMigrations applies the embedded schema migrations.
func RunMigrations(database *sql.DB) error {
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// TruncateChatTables empties every relay table for a clean test state.
func TruncateChatTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE messages, chat_sessions, chat_requests, users CASCADE")
	if err != nil {
		return fmt.Errorf("truncate chat tables: %w", err)
	}
	return nil
}
