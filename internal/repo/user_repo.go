package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/synerchat/server/internal/model"
)

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `
		SELECT id, email, username, profile_picture, created_at
		FROM users
		WHERE id = $1
	`
	var user model.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.ProfilePicture,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// Create inserts a user record. Account credentials live outside this service.
func (r *userRepo) Create(ctx context.Context, email, username, profilePicture string) (model.User, error) {
	query := `
		INSERT INTO users (email, username, profile_picture)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	user := model.User{Email: email, Username: username, ProfilePicture: profilePicture}
	err := r.db.QueryRowContext(ctx, query, email, username, profilePicture).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// Search finds users whose email or username contains query
func (r *userRepo) Search(ctx context.Context, query string, excludeID uuid.UUID, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, username, profile_picture, created_at
		FROM users
		WHERE (email ILIKE $1 OR username ILIKE $1) AND id <> $2
		ORDER BY email
		LIMIT $3
	`, pattern, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.ProfilePicture, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
