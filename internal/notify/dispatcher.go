// Package notify delivers user notifications. Every notification is stored
// first, then published best effort; undelivered rows are retried by the outbox relay.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace/internal/domain"
	"marketplace/internal/metrics"
	"marketplace/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidNotification = errors.New("invalid notification")

type Dispatcher struct {
	repo      domain.NotificationRepository
	publisher domain.Publisher
	clock     domain.Clock
	logger    *zerolog.Logger
}

func NewDispatcher(repo domain.NotificationRepository, publisher domain.Publisher, clock domain.Clock, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, publisher: publisher, clock: clock, logger: logger}
}

// Notify persists n and publishes it. A failed publish is not an error for the
// caller: the row stays undelivered and the relay picks it up.
func (d *Dispatcher) Notify(ctx context.Context, n *models.Notification) error {
	if n.UserID <= 0 || strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: user id and message are required", ErrInvalidNotification)
	}
	n.Message = truncate(n.Message, models.MaxNotificationLength)
	if n.EventID == "" {
		n.EventID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.clock.Now()
	}

	if err := d.repo.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	backend := backendName(d.publisher)
	if err := d.publisher.Publish(ctx, n); err != nil {
		metrics.IncNotification(backend, "failed")
		d.logger.Warn().Err(err).Int64("notification_id", n.ID).Int64("user_id", n.UserID).
			Msg("notification publish failed, left for relay")
		if mErr := d.repo.MarkDeliveryFailed(ctx, n.ID, err.Error(), nil); mErr != nil {
			d.logger.Error().Err(mErr).Int64("notification_id", n.ID).Msg("failed to record publish failure")
		}
		return nil
	}

	metrics.IncNotification(backend, "ok")
	if err := d.repo.MarkDelivered(ctx, n.ID, d.clock.Now()); err != nil {
		d.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("failed to mark notification delivered")
	}
	return nil
}

// List returns the user's latest notifications.
func (d *Dispatcher) List(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = models.DefaultNotificationsLimit
	}
	return d.repo.ListUserNotifications(ctx, userID, limit)
}

func (d *Dispatcher) MarkRead(ctx context.Context, id, userID int64) error {
	return d.repo.MarkRead(ctx, id, userID)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
