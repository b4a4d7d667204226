package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingAccepted  = "booking_accepted"
	EventBookingRejected  = "booking_rejected"
	EventBookingStarted   = "booking_started"
	EventBookingCompleted = "booking_completed"
	EventBookingCancelled = "booking_cancelled"

	EventEmergencyCreated   = "emergency_created"
	EventEmergencyClaimed   = "emergency_claimed"
	EventEmergencyStarted   = "emergency_started"
	EventEmergencyCompleted = "emergency_completed"

	EventReviewCreated   = "review_created"
	EventReviewUpdated   = "review_updated"
	EventReviewDeleted   = "review_deleted"
	EventReviewModerated = "review_moderated"
	EventRatingUpdated   = "provider_rating_updated"
)

// BookingEventPayload is the booking snapshot sent to consumers.
type BookingEventPayload struct {
	BookingID  int64     `json:"booking_id"`
	ClientID   int64     `json:"client_id"`
	ProviderID int64     `json:"provider_id"`
	From       string    `json:"from,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	ChangedBy  int64     `json:"changed_by,omitempty"`
	At         time.Time `json:"at"`
}

type EmergencyEventPayload struct {
	EmergencyID int64     `json:"emergency_id"`
	ClientID    int64     `json:"client_id"`
	ServiceID   int64     `json:"service_id"`
	ProviderID  int64     `json:"provider_id,omitempty"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

type ReviewEventPayload struct {
	ReviewID   int64     `json:"review_id"`
	BookingID  int64     `json:"booking_id"`
	ProviderID int64     `json:"provider_id"`
	Rating     int       `json:"rating,omitempty"`
	Visible    bool      `json:"visible"`
	ActorID    int64     `json:"actor_id,omitempty"`
	At         time.Time `json:"at"`
}

type RatingEventPayload struct {
	ProviderID    int64   `json:"provider_id"`
	AverageRating float64 `json:"average_rating"`
	TotalReviews  int     `json:"total_reviews"`
}

// Event is a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every handler of the event type synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event. A nil bus drops it.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	ev, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&ev)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
