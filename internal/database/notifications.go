package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace/internal/models"
)

const notificationColumns = `id, event_id, user_id, type, title, message, reference_id, is_read,
	                 created_at, delivered_at, attempts, next_retry_at, last_error`

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `INSERT INTO notifications (event_id, user_id, type, title, message, reference_id, is_read, created_at, attempts)
              VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0)`
	result, err := db.ExecContext(ctx, query,
		n.EventID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.ReferenceID,
		n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	return nil
}

func (db *DB) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE notifications SET delivered_at = ?, attempts = attempts + 1, next_retry_at = NULL, last_error = ''
              WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	return nil
}

// MarkDeliveryFailed records a failed publish. A nil nextRetryAt parks the row until the relay gives up on it.
func (db *DB) MarkDeliveryFailed(ctx context.Context, id int64, errMsg string, nextRetryAt *time.Time) error {
	var next interface{}
	if nextRetryAt != nil {
		next = nextRetryAt.UTC()
	}
	query := `UPDATE notifications SET attempts = attempts + 1, last_error = ?, next_retry_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, errMsg, next, id); err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	return nil
}

// GetUndelivered returns notifications due for another publish attempt, oldest first.
func (db *DB) GetUndelivered(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
              WHERE delivered_at IS NULL AND attempts < ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.queryNotifications(ctx, query, maxAttempts, now.UTC(), limit)
}

func (db *DB) ListUserNotifications(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
              WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return db.queryNotifications(ctx, query, userID, limit)
}

// MarkRead flips is_read for the owner only; someone else's id reads as not found.
func (db *DB) MarkRead(ctx context.Context, id, userID int64) error {
	result, err := db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return expectOne(result, "notification", id)
}

func (db *DB) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var (
			n           models.Notification
			referenceID sql.NullInt64
			deliveredAt sql.NullTime
			nextRetryAt sql.NullTime
		)
		err := rows.Scan(
			&n.ID, &n.EventID, &n.UserID, &n.Type, &n.Title, &n.Message, &referenceID, &n.IsRead,
			&n.CreatedAt, &deliveredAt, &n.Attempts, &nextRetryAt, &n.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if referenceID.Valid {
			ref := referenceID.Int64
			n.ReferenceID = &ref
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			n.DeliveredAt = &t
		}
		if nextRetryAt.Valid {
			t := nextRetryAt.Time
			n.NextRetryAt = &t
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
