package models

import "time"

// EmergencyRequest is broadcast to every provider of a service; exactly one may claim it.
type EmergencyRequest struct {
	ID          int64           `json:"id"`
	ClientID    int64           `json:"client_id"`
	ServiceID   int64           `json:"service_id"`
	ProviderID  *int64          `json:"provider_id,omitempty"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	Details     string          `json:"details"`
	RequestedAt time.Time       `json:"requested_at"`
	AcceptedAt  *time.Time      `json:"accepted_at,omitempty"`
	Status      EmergencyStatus `json:"status"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Claimed reports whether a provider has been assigned.
func (e *EmergencyRequest) Claimed() bool {
	return e.ProviderID != nil
}

// AssignedTo returns the assigned provider id or 0 while unclaimed.
func (e *EmergencyRequest) AssignedTo() int64 {
	if e.ProviderID == nil {
		return 0
	}
	return *e.ProviderID
}

type EmergencyInput struct {
	ClientID  int64   `json:"client_id"`
	ServiceID int64   `json:"service_id"`
	Details   string  `json:"details"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EmergencyStatusChange moves a claimed emergency forward for its assignee.
type EmergencyStatusChange struct {
	ID          int64
	From        EmergencyStatus
	To          EmergencyStatus
	ProviderID  int64
	CompletedAt *time.Time
}
