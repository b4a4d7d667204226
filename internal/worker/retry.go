package worker

import (
	"math"
	"time"

	"marketplace/internal/models"
)

// RetryPolicy schedules redelivery of outbox notifications. The delay grows
// with the attempts already recorded on the row.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	return p
}

// Exhausted reports whether a failure on n would use up its last attempt.
func (p RetryPolicy) Exhausted(n *models.Notification) bool {
	return n.Attempts+1 >= p.MaxRetries
}

// Backoff is the wait after a notification has failed attempts times.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempts)))
	if d <= 0 || d > p.MaxDelay {
		// overflow lands here too
		d = p.MaxDelay
	}
	return d
}

// NextRetryAt is when n becomes due again after failing now. A row whose
// previous schedule is still ahead of now keeps counting from that schedule.
func (p RetryPolicy) NextRetryAt(n *models.Notification, now time.Time) time.Time {
	from := now
	if n.NextRetryAt != nil && n.NextRetryAt.After(now) {
		from = *n.NextRetryAt
	}
	return from.Add(p.Backoff(n.Attempts))
}
