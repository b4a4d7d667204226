package domain

import (
	"context"
	"time"

	"marketplace/internal/models"
)

type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, change models.BookingStatusChange) error
	ListClientBookings(ctx context.Context, clientID int64, status *models.BookingStatus) ([]*models.Booking, error)
	ListProviderBookings(ctx context.Context, providerID int64) ([]*models.Booking, error)
}

type EmergencyRepository interface {
	CreateEmergency(ctx context.Context, e *models.EmergencyRequest) error
	GetEmergency(ctx context.Context, id int64) (*models.EmergencyRequest, error)
	// AcceptEmergency claims an unclaimed emergency for providerID in one transaction.
	AcceptEmergency(ctx context.Context, id, providerID int64, at time.Time) error
	UpdateEmergencyStatus(ctx context.Context, change models.EmergencyStatusChange) error
	ListPendingEmergencies(ctx context.Context, serviceID int64) ([]*models.EmergencyRequest, error)
	ListClientEmergencies(ctx context.Context, clientID int64) ([]*models.EmergencyRequest, error)
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, review *models.Review) error
	GetReview(ctx context.Context, id int64) (*models.Review, error)
	GetReviewByBooking(ctx context.Context, bookingID int64) (*models.Review, error)
	// UpdateReviewContent and DeleteReview only touch reviews created at or after editableSince;
	// a nil editableSince on delete removes unconditionally.
	UpdateReviewContent(ctx context.Context, id int64, rating int, comment *string, anonymous bool, editableSince time.Time) error
	SetReviewVisibility(ctx context.Context, id int64, visible bool) error
	DeleteReview(ctx context.Context, id int64, editableSince *time.Time) error
	ListProviderReviews(ctx context.Context, providerID int64, limit, offset int) ([]*models.Review, error)
	ProviderRatingCounts(ctx context.Context, providerID int64) (map[int]int, error)
	ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.Review, error)
}

type ProviderRatingRepository interface {
	// RecomputeProviderRating rebuilds the aggregate from visible reviews and stores it.
	RecomputeProviderRating(ctx context.Context, providerID int64, at time.Time) (*models.ProviderRating, error)
	GetProviderRating(ctx context.Context, providerID int64) (*models.ProviderRating, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	MarkDelivered(ctx context.Context, id int64, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id int64, errMsg string, nextRetryAt *time.Time) error
	GetUndelivered(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.Notification, error)
	ListUserNotifications(ctx context.Context, userID int64, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id, userID int64) error
}

type Clock interface {
	Now() time.Time
}

// Notifier delivers a user notification. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// Publisher pushes an already persisted notification to a transport.
type Publisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
