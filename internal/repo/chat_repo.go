package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/synerchat/server/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

type chatRepo struct {
	db *sql.DB
}

// NewChatRepo creates a new ChatRepo instance
func NewChatRepo(db *sql.DB) ChatRepo {
	return &chatRepo{db: db}
}

const sessionColumns = `id, user1_id, user2_id, user1_code, user2_code,
	last_verification, next_verification, verification_pending, verification_deadline,
	user1_wants_delete, user2_wants_delete, created_at`

func scanSession(row interface{ Scan(...any) error }) (model.ChatSession, error) {
	var s model.ChatSession
	var deadline sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.User1ID,
		&s.User2ID,
		&s.User1Code,
		&s.User2Code,
		&s.LastVerifiedAt,
		&s.NextVerificationAt,
		&s.VerificationPending,
		&deadline,
		&s.User1WantsDelete,
		&s.User2WantsDelete,
		&s.CreatedAt,
	)
	if deadline.Valid {
		t := deadline.Time
		s.VerificationDeadline = &t
	}
	return s, err
}

func (r *chatRepo) querySessions(ctx context.Context, query string, args ...any) ([]model.ChatSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat sessions: %w", err)
	}
	defer rows.Close()

	var out []model.ChatSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSessionByID returns ErrNotFound once a session is destroyed.
func (r *chatRepo) GetSessionByID(ctx context.Context, id uuid.UUID) (model.ChatSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ChatSession{}, fmt.Errorf("chat session %s: %w", id, ErrNotFound)
		}
		return model.ChatSession{}, fmt.Errorf("query chat session: %w", err)
	}
	return s, nil
}

// CreateSession inserts the session; ID and CreatedAt are assigned by the database.
// A second session for the same pair fails with ErrDuplicate.
func (r *chatRepo) CreateSession(ctx context.Context, s model.ChatSession) (model.ChatSession, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO chat_sessions (user1_id, user2_id, user1_code, user2_code, last_verification, next_verification)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+sessionColumns,
		s.User1ID, s.User2ID, s.User1Code, s.User2Code, s.LastVerifiedAt, s.NextVerificationAt)
	created, err := scanSession(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.ChatSession{}, fmt.Errorf("chat session between %s and %s: %w", s.User1ID, s.User2ID, ErrDuplicate)
		}
		return model.ChatSession{}, fmt.Errorf("insert chat session: %w", err)
	}
	return created, nil
}

// DeleteSession removes the session; messages go with it via ON DELETE CASCADE.
func (r *chatRepo) DeleteSession(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("chat session %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSessionVerification records a successful verification and clears any pending state.
func (r *chatRepo) UpdateSessionVerification(ctx context.Context, id uuid.UUID, verifiedAt, nextAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET last_verification = $2,
		    next_verification = $3,
		    verification_pending = FALSE,
		    verification_deadline = NULL
		WHERE id = $1
	`, id, verifiedAt, nextAt)
	if err != nil {
		return fmt.Errorf("update chat verification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("chat session %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetVerificationPending marks the session pending with the advertised deadline.
func (r *chatRepo) SetVerificationPending(ctx context.Context, id uuid.UUID, deadline time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET verification_pending = TRUE, verification_deadline = $2
		WHERE id = $1
	`, id, deadline)
	if err != nil {
		return fmt.Errorf("set verification pending: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("chat session %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetWantsDelete raises the consent flag of userID and returns the updated session.
func (r *chatRepo) SetWantsDelete(ctx context.Context, id, userID uuid.UUID) (model.ChatSession, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE chat_sessions
		SET user1_wants_delete = user1_wants_delete OR user1_id = $2,
		    user2_wants_delete = user2_wants_delete OR user2_id = $2
		WHERE id = $1 AND (user1_id = $2 OR user2_id = $2)
		RETURNING `+sessionColumns,
		id, userID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ChatSession{}, fmt.Errorf("chat session %s: %w", id, ErrNotFound)
		}
		return model.ChatSession{}, fmt.Errorf("set wants delete: %w", err)
	}
	return s, nil
}

// ListNonDestroyedSessions returns every stored session for the sweep.
func (r *chatRepo) ListNonDestroyedSessions(ctx context.Context) ([]model.ChatSession, error) {
	return r.querySessions(ctx, `SELECT `+sessionColumns+` FROM chat_sessions ORDER BY created_at`)
}

// ListSessionsForUser returns the sessions userID participates in, newest first.
func (r *chatRepo) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]model.ChatSession, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY created_at DESC
	`, userID)
}

// FindSessionBetween returns the session joining a and b in either order.
func (r *chatRepo) FindSessionBetween(ctx context.Context, a, b uuid.UUID) (model.ChatSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
		LIMIT 1
	`, a, b)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ChatSession{}, ErrNotFound
		}
		return model.ChatSession{}, fmt.Errorf("find chat session: %w", err)
	}
	return s, nil
}
