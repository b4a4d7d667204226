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

type EmergencyService struct {
	repo     domain.EmergencyRepository
	eventBus domain.EventPublisher
	notifier domain.Notifier
	clock    domain.Clock
	logger   *zerolog.Logger
}

func NewEmergencyService(repo domain.EmergencyRepository, eventBus domain.EventPublisher, notifier domain.Notifier, clock domain.Clock, logger *zerolog.Logger) *EmergencyService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &EmergencyService{
		repo:     repo,
		eventBus: eventBus,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

func (s *EmergencyService) CreateEmergency(ctx context.Context, in models.EmergencyInput) (int64, error) {
	details := strings.TrimSpace(in.Details)
	switch {
	case in.ClientID <= 0 || in.ServiceID <= 0:
		return 0, validationError("client and service ids are required")
	case details == "":
		return 0, validationError("details are required")
	case utf8.RuneCountInString(details) > models.MaxDetailsLength:
		return 0, validationError("details longer than %d characters", models.MaxDetailsLength)
	case in.Latitude < -90 || in.Latitude > 90:
		return 0, validationError("latitude %.6f out of range", in.Latitude)
	case in.Longitude < -180 || in.Longitude > 180:
		return 0, validationError("longitude %.6f out of range", in.Longitude)
	}

	e := &models.EmergencyRequest{
		ClientID:    in.ClientID,
		ServiceID:   in.ServiceID,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Details:     details,
		RequestedAt: s.clock.Now(),
		Status:      models.EmergencyPending,
	}
	if err := s.repo.CreateEmergency(ctx, e); err != nil {
		return 0, err
	}

	s.logger.Info().Int64("emergency_id", e.ID).Int64("client_id", e.ClientID).Int64("service_id", e.ServiceID).
		Msg("emergency created")
	s.publishEvent(events.EventEmergencyCreated, e)
	return e.ID, nil
}

// AcceptEmergency claims a pending emergency for providerID. Among concurrent
// callers exactly one succeeds; the others get ErrAlreadyClaimed.
func (s *EmergencyService) AcceptEmergency(ctx context.Context, emergencyID, providerID int64) error {
	e, err := s.repo.GetEmergency(ctx, emergencyID)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncClaim("lost")
		return fmt.Errorf("emergency %d: %w", emergencyID, ErrAlreadyClaimed)
	}
	if err != nil {
		metrics.IncClaim("error")
		return err
	}

	// The client check is all that can be decided up front. A stale status here
	// means another provider already won, so only the transaction decides.
	if _, err := lifecycle.Emergencies.Decide(models.EmergencyPending, lifecycle.ActionAccept, providerID,
		lifecycle.Owners{ClientID: e.ClientID}); err != nil {
		metrics.IncClaim("rejected")
		return err
	}

	now := s.clock.Now()
	if err := s.repo.AcceptEmergency(ctx, emergencyID, providerID, now); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			metrics.IncClaim("lost")
			s.logger.Info().Int64("emergency_id", emergencyID).Int64("provider_id", providerID).Msg("emergency claim lost")
			return err
		}
		metrics.IncClaim("error")
		s.logger.Error().Err(err).Int64("emergency_id", emergencyID).Int64("provider_id", providerID).Msg("emergency claim failed")
		return err
	}
	metrics.IncClaim("won")

	e.ProviderID = &providerID
	e.AcceptedAt = &now
	e.Status = models.EmergencyAccepted

	s.logger.Info().Int64("emergency_id", emergencyID).Int64("provider_id", providerID).Msg("emergency claimed")
	s.publishEvent(events.EventEmergencyClaimed, e)
	s.notify(ctx, e.ClientID, e.ID, "Emergency accepted", "A provider has accepted your emergency request and is on the way.")
	return nil
}

// DeclineEmergency leaves the emergency for other providers; there is nothing to record.
func (s *EmergencyService) DeclineEmergency(_ context.Context, emergencyID, providerID int64) bool {
	s.logger.Debug().Int64("emergency_id", emergencyID).Int64("provider_id", providerID).Msg("emergency declined")
	return true
}

func (s *EmergencyService) StartEmergency(ctx context.Context, emergencyID, providerID int64) error {
	e, err := s.transition(ctx, emergencyID, providerID, lifecycle.ActionStart)
	if err != nil {
		return err
	}
	s.publishEvent(events.EventEmergencyStarted, e)
	s.notify(ctx, e.ClientID, e.ID, "Emergency in progress", "The provider has started working on your emergency request.")
	return nil
}

func (s *EmergencyService) CompleteEmergency(ctx context.Context, emergencyID, providerID int64) error {
	e, err := s.transition(ctx, emergencyID, providerID, lifecycle.ActionComplete)
	if err != nil {
		return err
	}
	s.publishEvent(events.EventEmergencyCompleted, e)
	s.notify(ctx, e.ClientID, e.ID, "Emergency completed", "Your emergency request has been completed.")
	return nil
}

func (s *EmergencyService) transition(ctx context.Context, emergencyID, providerID int64, action lifecycle.Action) (*models.EmergencyRequest, error) {
	e, err := s.repo.GetEmergency(ctx, emergencyID)
	if err != nil {
		return nil, err
	}

	next, err := lifecycle.Emergencies.Decide(e.Status, action, providerID, emergencyOwners(e))
	if err != nil {
		metrics.IncTransition("emergency", string(action), "rejected")
		return nil, err
	}

	change := models.EmergencyStatusChange{
		ID:         e.ID,
		From:       e.Status,
		To:         next,
		ProviderID: providerID,
	}
	if next == models.EmergencyCompleted {
		now := s.clock.Now()
		change.CompletedAt = &now
	}

	if err := s.repo.UpdateEmergencyStatus(ctx, change); err != nil {
		if !errors.Is(err, database.ErrConcurrentModification) {
			metrics.IncTransition("emergency", string(action), "error")
			return nil, err
		}
		metrics.IncTransition("emergency", string(action), "conflict")
		fresh, rErr := s.repo.GetEmergency(ctx, emergencyID)
		if rErr != nil {
			return nil, rErr
		}
		if _, dErr := lifecycle.Emergencies.Decide(fresh.Status, action, providerID, emergencyOwners(fresh)); dErr != nil {
			return nil, dErr
		}
		return nil, fmt.Errorf("emergency %d changed concurrently: %w", emergencyID, ErrInvalidTransition)
	}
	metrics.IncTransition("emergency", string(action), "ok")

	e.Status = next
	if change.CompletedAt != nil {
		e.CompletedAt = change.CompletedAt
	}
	s.logger.Info().Int64("emergency_id", e.ID).Str("from", string(change.From)).Str("to", string(next)).
		Int64("provider_id", providerID).Msg("emergency status changed")
	return e, nil
}

func emergencyOwners(e *models.EmergencyRequest) lifecycle.Owners {
	return lifecycle.Owners{ClientID: e.ClientID, ProviderID: e.AssignedTo()}
}

func (s *EmergencyService) GetEmergency(ctx context.Context, id int64) (*models.EmergencyRequest, error) {
	return s.repo.GetEmergency(ctx, id)
}

// ListPendingEmergencies returns unclaimed requests; serviceID 0 lists every service.
func (s *EmergencyService) ListPendingEmergencies(ctx context.Context, serviceID int64) ([]*models.EmergencyRequest, error) {
	return s.repo.ListPendingEmergencies(ctx, serviceID)
}

func (s *EmergencyService) ListClientEmergencies(ctx context.Context, clientID int64) ([]*models.EmergencyRequest, error) {
	return s.repo.ListClientEmergencies(ctx, clientID)
}

func (s *EmergencyService) publishEvent(eventType string, e *models.EmergencyRequest) {
	if s.eventBus == nil {
		return
	}

	payload := events.EmergencyEventPayload{
		EmergencyID: e.ID,
		ClientID:    e.ClientID,
		ServiceID:   e.ServiceID,
		ProviderID:  e.AssignedTo(),
		Status:      string(e.Status),
		At:          s.clock.Now(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("emergency_id", e.ID).Msg("publish event error")
	}
}

func (s *EmergencyService) notify(ctx context.Context, userID, emergencyID int64, title, message string) {
	sendNotification(ctx, s.notifier, s.logger, &models.Notification{
		UserID:      userID,
		Type:        models.NotificationEmergency,
		Title:       title,
		Message:     message,
		ReferenceID: &emergencyID,
	})
}
