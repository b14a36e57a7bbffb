// Package types provides the domain types shared by the campushub packages.
package types

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User is the signed-in identity notifications are addressed to. The
// profile itself is owned by the surrounding CRUD layer.
type User struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"display_name"`

	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	DeletedAt sql.NullTime `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsActive returns true if the user is not soft-deleted.
func (u *User) IsActive() bool {
	return !u.DeletedAt.Valid
}
