package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/model"
)

type requestRepo struct {
	db *sql.DB
}

// NewRequestRepo creates a new RequestRepo instance
func NewRequestRepo(db *sql.DB) RequestRepo {
	return &requestRepo{db: db}
}

const requestColumns = `id, from_user_id, to_user_id, verification_code, status, expires_at, created_at`

func scanRequest(row interface{ Scan(...any) error }) (model.ChatRequest, error) {
	var req model.ChatRequest
	var status string
	err := row.Scan(
		&req.ID,
		&req.FromUserID,
		&req.ToUserID,
		&req.VerificationCode,
		&status,
		&req.ExpiresAt,
		&req.CreatedAt,
	)
	req.Status = model.RequestStatus(status)
	return req, err
}

// Create inserts a pending chat request
func (r *requestRepo) Create(ctx context.Context, fromUserID, toUserID uuid.UUID, code string, expiresAt time.Time) (model.ChatRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO chat_requests (from_user_id, to_user_id, verification_code, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+requestColumns,
		fromUserID, toUserID, code, expiresAt)
	req, err := scanRequest(row)
	if err != nil {
		return model.ChatRequest{}, fmt.Errorf("insert chat request: %w", err)
	}
	return req, nil
}

// GetByID returns the request regardless of status
func (r *requestRepo) GetByID(ctx context.Context, id uuid.UUID) (model.ChatRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM chat_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ChatRequest{}, fmt.Errorf("chat request %s: %w", id, ErrNotFound)
		}
		return model.ChatRequest{}, fmt.Errorf("query chat request: %w", err)
	}
	return req, nil
}

// UpdateStatus performs a compare-and-set on status.
func (r *requestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.RequestStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE chat_requests SET status = $3 WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update chat request status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// ListPendingForUser returns pending requests addressed to the user, newest first.
// Lapsed requests are included; the caller expires them lazily.
func (r *requestRepo) ListPendingForUser(ctx context.Context, toUserID uuid.UUID) ([]model.ChatRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM chat_requests
		WHERE to_user_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`, toUserID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var out []model.ChatRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// HasPendingBetween reports whether an unexpired pending request exists
// between the two users in either direction.
func (r *requestRepo) HasPendingBetween(ctx context.Context, userA, userB uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_requests
			WHERE ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1))
			  AND status = 'pending' AND expires_at > now()
		)
	`, userA, userB).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return exists, nil
}
