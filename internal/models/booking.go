package models

import "time"

type Booking struct {
	ID                 int64         `json:"id"`
	ClientID           int64         `json:"client_id"`
	ProviderID         int64         `json:"provider_id"`
	ServiceID          int64         `json:"service_id"`
	RequestedAt        time.Time     `json:"requested_at"`
	ScheduledAt        time.Time     `json:"scheduled_at"`
	Latitude           float64       `json:"latitude"`
	Longitude          float64       `json:"longitude"`
	Notes              string        `json:"notes,omitempty"`
	Status             BookingStatus `json:"status"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	HasReview          bool          `json:"has_review"`
}

// BookingRequest is the client input for a new booking.
type BookingRequest struct {
	ClientID    int64     `json:"client_id"`
	ProviderID  int64     `json:"provider_id"`
	ServiceID   int64     `json:"service_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Notes       string    `json:"notes,omitempty"`
}

// BookingStatusChange is a guarded status write: it applies only while the row
// is still in From and still belongs to the actor.
type BookingStatusChange struct {
	ID          int64
	From        BookingStatus
	To          BookingStatus
	ActorID     int64
	ByClient    bool
	CompletedAt *time.Time
	Reason      *string
}
