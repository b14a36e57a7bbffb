// Package notify is the server side of live notifications: it records
// notifications, pushes them to the recipient's open channel and serves the
// push channel protocol and the read-state REST API.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MaxFetch is the largest page a client may request.
const MaxFetch = 100

// Store is the persistence the service needs.
type Store interface {
	CreateNotification(ctx context.Context, n *types.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]types.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error)
}

// EmitRequest describes a notification to create.
type EmitRequest struct {
	UserID  uuid.UUID              `json:"user_id"`
	Type    types.NotificationType `json:"type"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Data    types.JSONMap          `json:"data,omitempty"`
}

// Validate checks r before anything is stored.
func (r *EmitRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", types.ErrBadRequest)
	}
	if r.Type == "" {
		r.Type = types.NotificationTypeGeneric
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: unknown notification type %q", types.ErrBadRequest, r.Type)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", types.ErrBadRequest)
	}
	return nil
}

// Service is the entry point other subsystems use to notify a user.
type Service struct {
	store Store
	bus   Bus

	// Emits for one user hold the same stripe across create and publish,
	// so the push order matches the creation order.
	locks [64]sync.Mutex
}

// NewService creates a Service.
func NewService(store Store, bus Bus) *Service {
	return &Service{store: store, bus: bus}
}

func (s *Service) lockFor(userID uuid.UUID) *sync.Mutex {
	return &s.locks[int(userID[15])%len(s.locks)]
}

// Emit durably records a notification and pushes it to the recipient if
// they are connected. A failed push is logged and does not fail the emit;
// the client picks the notification up on its next backfill.
func (s *Service) Emit(ctx context.Context, req EmitRequest) (*types.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	n := &types.Notification{
		UserID:  req.UserID,
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Data:    req.Data,
	}

	mu := s.lockFor(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}
	notificationsEmitted.WithLabelValues(string(n.Type)).Inc()

	if err := s.bus.Publish(ctx, n); err != nil {
		log.Warn().
			Err(err).
			Str("user_id", n.UserID.String()).
			Str("notification_id", n.ID.String()).
			Msg("Failed to publish notification")
	}

	log.Debug().
		Str("user_id", n.UserID.String()).
		Str("notification_id", n.ID.String()).
		Str("type", string(n.Type)).
		Msg("Notification emitted")

	return n, nil
}

// ClampLimit applies the default page size and the upper bound.
func ClampLimit(limit, fallback int) int {
	if limit <= 0 {
		limit = fallback
	}
	if limit > MaxFetch {
		limit = MaxFetch
	}
	return limit
}

// List returns a page of userID's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]types.Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit, offset)
}

// MarkRead marks one notification read. Repeating it is a no-op.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	changed, err := s.store.MarkNotificationRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if changed {
		log.Debug().
			Str("user_id", userID.String()).
			Str("notification_id", id.String()).
			Msg("Notification marked read")
	}
	return nil
}

// MarkAllRead marks every notification of userID read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// UnreadCount returns the number of unread notifications of userID.
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountUnreadNotifications(ctx, userID)
}
