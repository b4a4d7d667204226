package notify

import (
	"context"
	"sync"

	"marketplace/internal/config"
	"marketplace/internal/models"
)

// Hub is an in-process publisher: live subscribers per user plus a bounded recent list.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]map[chan *models.Notification]struct{}
	recent map[int64][]*models.Notification
	keep   int
}

func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = defaultInboxSize
	}
	return &Hub{
		subs:   make(map[int64]map[chan *models.Notification]struct{}),
		recent: make(map[int64][]*models.Notification),
		keep:   keep,
	}
}

func (h *Hub) Name() string {
	return config.BackendMemory
}

func (h *Hub) Subscribe(_ context.Context, userID int64) (<-chan *models.Notification, func(), error) {
	ch := make(chan *models.Notification, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan *models.Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}, nil
}

func (h *Hub) Publish(_ context.Context, n *models.Notification) error {
	cp := *n

	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.recent[n.UserID], &cp)
	if len(list) > h.keep {
		list = list[len(list)-h.keep:]
	}
	h.recent[n.UserID] = list

	for ch := range h.subs[n.UserID] {
		select {
		case ch <- &cp:
		default:
		}
	}
	return nil
}

// Recent returns up to limit retained notifications, newest first. A limit of
// zero or less returns everything kept.
func (h *Hub) Recent(_ context.Context, userID int64, limit int) ([]*models.Notification, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.recent[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*models.Notification, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
