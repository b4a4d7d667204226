package models

import "time"

type Review struct {
	ID             int64     `json:"id"`
	BookingID      int64     `json:"booking_id"`
	ClientID       int64     `json:"client_id"`
	ProviderID     int64     `json:"provider_id"`
	Rating         int       `json:"rating"`
	Comment        *string   `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	IsVisible      bool      `json:"is_visible"`
	IsAnonymous    bool      `json:"is_anonymous"`
	AdminModerated bool      `json:"admin_moderated"`
}

// ReviewInput carries the client-editable fields of a review.
type ReviewInput struct {
	BookingID   int64  `json:"booking_id"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// ReviewFilter narrows the admin review listing; nil fields match everything.
type ReviewFilter struct {
	Visible   *bool
	Moderated *bool
}

// ProviderRating is the aggregate over a provider's visible reviews.
type ProviderRating struct {
	ProviderID    int64     `json:"provider_id"`
	AverageRating float64   `json:"average_rating"`
	TotalReviews  int       `json:"total_reviews"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ProviderSummary struct {
	ProviderID         int64           `json:"provider_id"`
	AverageRating      float64         `json:"average_rating"`
	TotalReviews       int             `json:"total_reviews"`
	RatingDistribution map[int]int     `json:"rating_distribution"`
	RatingPercentages  map[int]float64 `json:"rating_percentages"`
	Reviews            []*Review       `json:"reviews"`
	CurrentPage        int             `json:"current_page"`
	TotalPages         int             `json:"total_pages"`
	PageSize           int             `json:"page_size"`
}
