package models

import (
	"fmt"
	"time"
)

type Notification struct {
	ID          int64            `json:"id"`
	EventID     string           `json:"event_id"`
	UserID      int64            `json:"user_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	ReferenceID *int64           `json:"reference_id,omitempty"`
	IsRead      bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
	DeliveredAt *time.Time       `json:"delivered_at,omitempty"`
	Attempts    int              `json:"attempts"`
	NextRetryAt *time.Time       `json:"next_retry_at,omitempty"`
	LastError   string           `json:"-"`
}

// Channel is the per-user pub/sub channel name under prefix.
func (n *Notification) Channel(prefix string) string {
	return fmt.Sprintf("%s:user:%d", prefix, n.UserID)
}
