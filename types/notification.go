package types

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType is the closed set of notification kinds produced by
// gamification and the other collaborator subsystems.
type NotificationType string

const (
	NotificationTypeBadgeEarned         NotificationType = "BADGE_EARNED"
	NotificationTypeAchievementUnlocked NotificationType = "ACHIEVEMENT_UNLOCKED"
	NotificationTypeLevelUp             NotificationType = "LEVEL_UP"
	NotificationTypeStreakMilestone     NotificationType = "STREAK_MILESTONE"
	NotificationTypeXPGained            NotificationType = "XP_GAINED"
	NotificationTypeGeneric             NotificationType = "GENERIC"
)

// IsValid returns true if the NotificationType is one of the known kinds.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeBadgeEarned, NotificationTypeAchievementUnlocked,
		NotificationTypeLevelUp, NotificationTypeStreakMilestone,
		NotificationTypeXPGained, NotificationTypeGeneric:
		return true
	default:
		return false
	}
}

// ParseNotificationType parses s into a NotificationType.
func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown notification type %q", ErrBadRequest, s)
	}
	return t, nil
}

// Notification is a fact delivered to exactly one user.
// Everything except Read and ReadAt is immutable after creation, and Read
// only ever moves from false to true.
type Notification struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	UserID    uuid.UUID        `db:"user_id" json:"user_id"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Data      JSONMap          `db:"data" json:"data,omitempty"`
	Read      bool             `db:"read" json:"read"`
	ReadAt    sql.NullTime     `db:"read_at" json:"-"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationListResponse is the response for listing notifications.
type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

// UnreadCountResponse is the response for getting unread notification count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// MarkAllReadResponse is the response for the bulk mark-read endpoint.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// PushTokenResponse carries a short-lived token for the push channel handshake.
type PushTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CountUnread counts the entries of list that have not been read.
func CountUnread(list []Notification) int {
	n := 0
	for i := range list {
		if !list[i].Read {
			n++
		}
	}
	return n
}
