package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"marketplace/internal/database"
	"marketplace/internal/domain"
	"marketplace/internal/events"
	"marketplace/internal/lifecycle"
	"marketplace/internal/metrics"
	"marketplace/internal/models"

	"github.com/rs/zerolog"
)

type BookingService struct {
	repo     domain.BookingRepository
	eventBus domain.EventPublisher
	notifier domain.Notifier
	clock    domain.Clock
	logger   *zerolog.Logger
}

func NewBookingService(repo domain.BookingRepository, eventBus domain.EventPublisher, notifier domain.Notifier, clock domain.Clock, logger *zerolog.Logger) *BookingService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &BookingService{
		repo:     repo,
		eventBus: eventBus,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

func validateBookingRequest(req models.BookingRequest) error {
	switch {
	case req.ClientID <= 0 || req.ProviderID <= 0 || req.ServiceID <= 0:
		return validationError("client, provider and service ids are required")
	case req.ClientID == req.ProviderID:
		return validationError("client and provider must be different users")
	case req.ScheduledAt.IsZero():
		return validationError("scheduled time is required")
	case req.Latitude < -90 || req.Latitude > 90:
		return validationError("latitude %.6f out of range", req.Latitude)
	case req.Longitude < -180 || req.Longitude > 180:
		return validationError("longitude %.6f out of range", req.Longitude)
	case utf8.RuneCountInString(req.Notes) > models.MaxNotesLength:
		return validationError("notes longer than %d characters", models.MaxNotesLength)
	}
	return nil
}

// CreateBooking stores a new pending booking and returns its id.
func (s *BookingService) CreateBooking(ctx context.Context, req models.BookingRequest) (int64, error) {
	if err := validateBookingRequest(req); err != nil {
		return 0, err
	}

	booking := &models.Booking{
		ClientID:    req.ClientID,
		ProviderID:  req.ProviderID,
		ServiceID:   req.ServiceID,
		RequestedAt: s.clock.Now(),
		ScheduledAt: req.ScheduledAt,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Notes:       strings.TrimSpace(req.Notes),
		Status:      models.BookingPending,
	}
	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return 0, err
	}

	s.logger.Info().Int64("booking_id", booking.ID).Int64("client_id", booking.ClientID).
		Int64("provider_id", booking.ProviderID).Msg("booking created")
	s.publishEvent(events.EventBookingCreated, booking, "", booking.ClientID)
	s.notify(ctx, booking.ProviderID, booking.ID, "New booking request",
		fmt.Sprintf("You have a new booking request for %s.", booking.ScheduledAt.Format("02 Jan 2006 15:04")))

	return booking.ID, nil
}

func (s *BookingService) Accept(ctx context.Context, bookingID, providerID int64) error {
	b, from, err := s.transition(ctx, bookingID, providerID, lifecycle.ActionAccept, "")
	if err != nil {
		return err
	}
	s.publishEvent(events.EventBookingAccepted, b, from, providerID)
	s.notify(ctx, b.ClientID, b.ID, "Booking accepted", "Your booking has been accepted by the provider.")
	return nil
}

// Reject moves a pending booking to Cancelled and records the reason.
func (s *BookingService) Reject(ctx context.Context, bookingID, providerID int64, reason string) error {
	b, from, err := s.transition(ctx, bookingID, providerID, lifecycle.ActionReject, reason)
	if err != nil {
		return err
	}
	s.publishEvent(events.EventBookingRejected, b, from, providerID)
	s.notify(ctx, b.ClientID, b.ID, "Booking rejected", withReason("Your booking was rejected by the provider.", reason))
	return nil
}

func (s *BookingService) Start(ctx context.Context, bookingID, providerID int64) error {
	b, from, err := s.transition(ctx, bookingID, providerID, lifecycle.ActionStart, "")
	if err != nil {
		return err
	}
	s.publishEvent(events.EventBookingStarted, b, from, providerID)
	s.notify(ctx, b.ClientID, b.ID, "Service started", "The provider has started working on your booking.")
	return nil
}

func (s *BookingService) Complete(ctx context.Context, bookingID, providerID int64) error {
	b, from, err := s.transition(ctx, bookingID, providerID, lifecycle.ActionComplete, "")
	if err != nil {
		return err
	}
	s.publishEvent(events.EventBookingCompleted, b, from, providerID)
	s.notify(ctx, b.ClientID, b.ID, "Booking completed", "Your booking is complete. You can now leave a review.")
	return nil
}

func (s *BookingService) CancelByClient(ctx context.Context, bookingID, clientID int64, reason string) error {
	b, from, err := s.transition(ctx, bookingID, clientID, lifecycle.ActionCancel, reason)
	if err != nil {
		return err
	}
	s.publishEvent(events.EventBookingCancelled, b, from, clientID)
	s.notify(ctx, b.ProviderID, b.ID, "Booking cancelled", withReason("The client cancelled the booking.", reason))
	return nil
}

// transition reads the booking, asks the state machine for the next status and
// writes it with a guarded update. The returned booking reflects the new state.
func (s *BookingService) transition(ctx context.Context, bookingID, actorID int64, action lifecycle.Action, reason string) (*models.Booking, models.BookingStatus, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > models.MaxReasonLength {
		return nil, "", validationError("reason longer than %d characters", models.MaxReasonLength)
	}

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}

	next, err := lifecycle.Bookings.Decide(b.Status, action, actorID, bookingOwners(b))
	if err != nil {
		metrics.IncTransition("booking", string(action), "rejected")
		return nil, "", err
	}
	tr, _ := lifecycle.Bookings.Lookup(b.Status, action)

	change := models.BookingStatusChange{
		ID:       b.ID,
		From:     b.Status,
		To:       next,
		ActorID:  actorID,
		ByClient: tr.Role == lifecycle.RoleClient,
	}
	if next == models.BookingCompleted {
		now := s.clock.Now()
		change.CompletedAt = &now
	}
	if next == models.BookingCancelled && reason != "" {
		change.Reason = &reason
	}

	if err := s.repo.UpdateBookingStatus(ctx, change); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			metrics.IncTransition("booking", string(action), "conflict")
			return nil, "", s.explainMiss(ctx, bookingID, actorID, action)
		}
		metrics.IncTransition("booking", string(action), "error")
		return nil, "", err
	}
	metrics.IncTransition("booking", string(action), "ok")

	b.Status = next
	if change.CompletedAt != nil {
		b.CompletedAt = change.CompletedAt
	}
	if change.Reason != nil {
		b.CancellationReason = change.Reason
	}

	s.logger.Info().Int64("booking_id", b.ID).Str("action", string(action)).Str("from", string(change.From)).
		Str("to", string(next)).Int64("actor_id", actorID).Msg("booking status changed")
	return b, change.From, nil
}

// explainMiss re-reads a booking whose guarded update matched no row and reports why.
func (s *BookingService) explainMiss(ctx context.Context, bookingID, actorID int64, action lifecycle.Action) error {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if _, err := lifecycle.Bookings.Decide(b.Status, action, actorID, bookingOwners(b)); err != nil {
		return err
	}
	return fmt.Errorf("booking %d changed concurrently: %w", bookingID, ErrInvalidTransition)
}

func bookingOwners(b *models.Booking) lifecycle.Owners {
	return lifecycle.Owners{ClientID: b.ClientID, ProviderID: b.ProviderID}
}

// AvailableActions lists what actorID may do next with b.
func (s *BookingService) AvailableActions(b *models.Booking, actorID int64) []lifecycle.Action {
	return lifecycle.Bookings.Allowed(b.Status, actorID, bookingOwners(b))
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) ListClientBookings(ctx context.Context, clientID int64, status *models.BookingStatus) ([]*models.Booking, error) {
	return s.repo.ListClientBookings(ctx, clientID, status)
}

func (s *BookingService) ListProviderBookings(ctx context.Context, providerID int64) ([]*models.Booking, error) {
	return s.repo.ListProviderBookings(ctx, providerID)
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, from models.BookingStatus, changedBy int64) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:  b.ID,
		ClientID:   b.ClientID,
		ProviderID: b.ProviderID,
		From:       string(from),
		Status:     string(b.Status),
		ChangedBy:  changedBy,
		At:         s.clock.Now(),
	}
	if b.CancellationReason != nil {
		payload.Reason = *b.CancellationReason
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) notify(ctx context.Context, userID, bookingID int64, title, message string) {
	sendNotification(ctx, s.notifier, s.logger, &models.Notification{
		UserID:      userID,
		Type:        models.NotificationBooking,
		Title:       title,
		Message:     message,
		ReferenceID: &bookingID,
	})
}

func withReason(message, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return message
	}
	return message + " Reason: " + reason
}

// sendNotification never fails the caller; delivery problems are only logged.
func sendNotification(ctx context.Context, notifier domain.Notifier, logger *zerolog.Logger, n *models.Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		logger.Warn().Err(err).Int64("user_id", n.UserID).Str("type", string(n.Type)).Msg("notification not sent")
	}
}
