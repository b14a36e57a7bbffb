package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
)

// CreateUser inserts a user. A nil ID is replaced with a fresh one.
func (d *Database) CreateUser(ctx context.Context, user *types.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at)
		VALUES (:id, :email, :display_name, :created_at)`, user)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUserByID returns an active user by id.
func (d *Database) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var user types.User
	err := d.db.GetContext(ctx, &user, `
		SELECT id, email, display_name, created_at, deleted_at
		FROM users
		WHERE id = ? AND deleted_at IS NULL`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &user, nil
}
