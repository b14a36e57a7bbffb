package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// notificationRow is the storage shape of types.Notification.
type notificationRow struct {
	ID        uuid.UUID     `db:"id"`
	UserID    uuid.UUID     `db:"user_id"`
	Type      string        `db:"type"`
	Title     string        `db:"title"`
	Message   string        `db:"message"`
	Data      types.JSONMap `db:"data"`
	Read      bool          `db:"read"`
	ReadAt    sql.NullInt64 `db:"read_at"`
	CreatedAt int64         `db:"created_at"`
}

func (r *notificationRow) toNotification() types.Notification {
	n := types.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      types.NotificationType(r.Type),
		Title:     r.Title,
		Message:   r.Message,
		Data:      r.Data,
		Read:      r.Read,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.ReadAt.Valid {
		n.ReadAt = sql.NullTime{Time: time.Unix(0, r.ReadAt.Int64).UTC(), Valid: true}
	}
	return n
}

const notificationColumns = `id, user_id, type, title, message, data, read, read_at, created_at`

// CreateNotification durably records n. ID and CreatedAt are assigned here
// when unset; the id is a UUIDv7 so it sorts in insertion order.
func (d *Database) CreateNotification(ctx context.Context, n *types.Notification) error {
	if n.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating notification id: %w", err)
		}
		n.ID = id
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Type == "" {
		n.Type = types.NotificationTypeGeneric
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Data, n.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	n.Read = false
	return nil
}

// GetNotification returns one notification owned by userID.
func (d *Database) GetNotification(ctx context.Context, userID, id uuid.UUID) (*types.Notification, error) {
	var row notificationRow
	err := d.db.GetContext(ctx, &row,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification: %w", err)
	}
	n := row.toNotification()
	return &n, nil
}

// ListNotifications returns a page of userID's notifications, newest first.
func (d *Database) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]types.Notification, error) {
	if limit <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit must be positive and offset non-negative", types.ErrBadRequest)
	}

	var rows []notificationRow
	err := d.db.SelectContext(ctx, &rows, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	out := make([]types.Notification, len(rows))
	for i := range rows {
		out[i] = rows[i].toNotification()
	}
	return out, nil
}

// MarkNotificationRead flips the read flag of one notification. It reports
// whether this call performed the false-to-true transition; marking an
// already-read notification is a successful no-op. The flag never reverts.
func (d *Database) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	var changed bool
	err := d.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE notifications
			SET read = 1, read_at = COALESCE(read_at, ?)
			WHERE id = ? AND user_id = ? AND read = 0`,
			time.Now().UTC().UnixNano(), id, userID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			changed = true
			return nil
		}

		var exists int
		if err := tx.GetContext(ctx, &exists,
			`SELECT COUNT(*) FROM notifications WHERE id = ? AND user_id = ?`, id, userID); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("notification %s: %w", id, types.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("marking notification read: %w", err)
	}
	return changed, nil
}

// MarkAllNotificationsRead flips every unread notification of userID and
// returns how many changed.
func (d *Database) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE notifications
		SET read = 1, read_at = COALESCE(read_at, ?)
		WHERE user_id = ? AND read = 0`,
		time.Now().UTC().UnixNano(), userID)
	if err != nil {
		return 0, fmt.Errorf("marking all notifications read: %w", err)
	}
	return res.RowsAffected()
}

// CountUnreadNotifications returns the number of unread notifications of userID.
func (d *Database) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	if err := d.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`, userID); err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// DeleteReadNotificationsBefore removes read notifications created before
// cutoff. Unread notifications are always retained.
func (d *Database) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read = 1 AND created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting old notifications: %w", err)
	}
	return res.RowsAffected()
}
