package notify

import (
	"context"

	"marketplace/internal/domain"
	"marketplace/internal/models"
)

const subscriberBuffer = 16

// Feed serves live and recently published notifications per user.
// Hub and RedisPublisher implement it.
type Feed interface {
	// Subscribe streams the user's notifications until cancel is called.
	// Slow readers miss messages instead of blocking publishers.
	Subscribe(ctx context.Context, userID int64) (<-chan *models.Notification, func(), error)
	// Recent returns up to limit notifications, newest first.
	Recent(ctx context.Context, userID int64, limit int) ([]*models.Notification, error)
}

// MirrorPublisher publishes to primary and then copies the notification into
// a local hub, so a broker without a read side still feeds live streams.
type MirrorPublisher struct {
	primary domain.Publisher
	local   *Hub
}

func NewMirrorPublisher(primary domain.Publisher, local *Hub) *MirrorPublisher {
	return &MirrorPublisher{primary: primary, local: local}
}

func (m *MirrorPublisher) Name() string {
	return backendName(m.primary)
}

func (m *MirrorPublisher) Publish(ctx context.Context, n *models.Notification) error {
	if err := m.primary.Publish(ctx, n); err != nil {
		return err
	}
	return m.local.Publish(ctx, n)
}
