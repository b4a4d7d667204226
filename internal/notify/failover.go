package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/models"

	"github.com/rs/zerolog"
)

const defaultRecoverAfter = time.Minute

// FailoverPublisher sends to primary and switches to fallback once primary fails.
// It probes primary again after recoverAfter has elapsed.
type FailoverPublisher struct {
	primary      domain.Publisher
	fallback     domain.Publisher
	logger       *zerolog.Logger
	recoverAfter time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverPublisher(primary, fallback domain.Publisher, logger *zerolog.Logger) *FailoverPublisher {
	return &FailoverPublisher{
		primary:      primary,
		fallback:     fallback,
		logger:       logger,
		recoverAfter: defaultRecoverAfter,
		now:          time.Now,
	}
}

// Name reports the backend currently in use.
func (f *FailoverPublisher) Name() string {
	if f.isDown.Load() {
		return backendName(f.fallback)
	}
	return backendName(f.primary)
}

func (f *FailoverPublisher) Publish(ctx context.Context, n *models.Notification) error {
	if !f.isDown.Load() || f.shouldProbe() {
		err := f.primary.Publish(ctx, n)
		if err == nil {
			if f.isDown.Swap(false) {
				f.logger.Info().Msg("Primary notification publisher recovered")
			}
			return nil
		}
		if !f.isDown.Swap(true) {
			f.logger.Error().Err(err).Msg("Primary notification publisher failed, falling back")
		}
		f.markChecked()

		if fbErr := f.fallback.Publish(ctx, n); fbErr != nil {
			return errors.Join(err, fbErr)
		}
		return nil
	}

	return f.fallback.Publish(ctx, n)
}

func (f *FailoverPublisher) shouldProbe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.now().Sub(f.lastCheck) < f.recoverAfter {
		return false
	}
	f.lastCheck = f.now()
	return true
}

func (f *FailoverPublisher) markChecked() {
	f.mu.Lock()
	f.lastCheck = f.now()
	f.mu.Unlock()
}

type named interface {
	Name() string
}

func backendName(p domain.Publisher) string {
	if n, ok := p.(named); ok {
		return n.Name()
	}
	return "unknown"
}
