package worker

import (
	"context"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/metrics"
	"marketplace/internal/models"

	"github.com/rs/zerolog"
)

// OutboxStore is the part of the notification store the relay needs.
type OutboxStore interface {
	GetUndelivered(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.Notification, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id int64, errMsg string, nextRetryAt *time.Time) error
}

// Relay re-publishes stored notifications that were never delivered.
type Relay struct {
	store        OutboxStore
	publisher    domain.Publisher
	clock        domain.Clock
	retryPolicy  RetryPolicy
	pollInterval time.Duration
	batchSize    int
	backend      string
	logger       *zerolog.Logger
}

// NewRelay builds a relay with sane defaults.
func NewRelay(store OutboxStore, publisher domain.Publisher, clock domain.Clock, retry RetryPolicy, logger *zerolog.Logger) *Relay {
	retry = retry.withDefaults()

	backend := "unknown"
	if n, ok := publisher.(interface{ Name() string }); ok {
		backend = n.Name()
	}

	return &Relay{
		store:        store,
		publisher:    publisher,
		clock:        clock,
		retryPolicy:  retry,
		pollInterval: 5 * time.Second,
		batchSize:    50,
		backend:      backend,
		logger:       logger,
	}
}

// WithPolling overrides the poll interval and batch size; zero values keep the defaults.
func (r *Relay) WithPolling(interval time.Duration, batch int) *Relay {
	if interval > 0 {
		r.pollInterval = interval
	}
	if batch > 0 {
		r.batchSize = batch
	}
	return r
}

// Start runs the relay loop until ctx is done.
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.pollInterval).Msg("notification relay started")
	defer r.logger.Info().Msg("notification relay stopped")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("notification relay: fetch pending")
			}
		}
	}
}

// RunOnce processes one batch and returns the number delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.GetUndelivered(ctx, r.clock.Now(), r.retryPolicy.MaxRetries, r.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := r.publisher.Publish(ctx, n); err != nil {
			r.retryOrFail(ctx, n, err)
			continue
		}
		metrics.IncNotification(r.backend, "relayed")
		if err := r.store.MarkDelivered(ctx, n.ID, r.clock.Now()); err != nil {
			r.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("notification relay: mark delivered")
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (r *Relay) retryOrFail(ctx context.Context, n *models.Notification, cause error) {
	metrics.IncNotification(r.backend, "failed")

	if r.retryPolicy.Exhausted(n) {
		r.logger.Error().Err(cause).Int64("notification_id", n.ID).Int("attempts", n.Attempts+1).
			Msg("notification relay: giving up")
		if err := r.store.MarkDeliveryFailed(ctx, n.ID, cause.Error(), nil); err != nil {
			r.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("notification relay: mark failed")
		}
		return
	}

	next := r.retryPolicy.NextRetryAt(n, r.clock.Now())
	if err := r.store.MarkDeliveryFailed(ctx, n.ID, cause.Error(), &next); err != nil {
		r.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("notification relay: mark retry")
	}
}
