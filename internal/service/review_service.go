package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"marketplace/internal/database"
	"marketplace/internal/domain"
	"marketplace/internal/events"
	"marketplace/internal/metrics"
	"marketplace/internal/models"

	"github.com/rs/zerolog"
)

type EligibilityCode string

const (
	EligibilityOK              EligibilityCode = "eligible"
	EligibilityBookingNotFound EligibilityCode = "booking_not_found"
	EligibilityNotOwner        EligibilityCode = "not_owner"
	EligibilityNotCompleted    EligibilityCode = "not_completed"
	EligibilityAlreadyReviewed EligibilityCode = "already_reviewed"
)

// Eligibility answers whether a client may review a booking, and if a review
// already exists, whether it can still be edited.
type Eligibility struct {
	CanReview        bool            `json:"can_review"`
	Reason           string          `json:"reason,omitempty"`
	Code             EligibilityCode `json:"code"`
	HasExisting      bool            `json:"has_existing_review"`
	ExistingReviewID int64           `json:"existing_review_id,omitempty"`
	CanEdit          bool            `json:"can_edit"`
	EditDeadline     *time.Time      `json:"edit_deadline,omitempty"`
}

// ReviewResult is what review writes report back to the caller. Failures also
// return a typed error so callers can tell them apart with errors.Is.
type ReviewResult struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	ReviewID    int64    `json:"review_id,omitempty"`
	HasExisting bool     `json:"has_existing_review,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

func failed(message string, err error, details ...string) (*ReviewResult, error) {
	return &ReviewResult{Success: false, Message: message, Errors: details}, err
}

type ReviewService struct {
	bookings   domain.BookingRepository
	reviews    domain.ReviewRepository
	ratings    domain.ProviderRatingRepository
	eventBus   domain.EventPublisher
	notifier   domain.Notifier
	clock      domain.Clock
	editWindow time.Duration
	logger     *zerolog.Logger
}

func NewReviewService(
	bookings domain.BookingRepository,
	reviews domain.ReviewRepository,
	ratings domain.ProviderRatingRepository,
	eventBus domain.EventPublisher,
	notifier domain.Notifier,
	clock domain.Clock,
	editWindow time.Duration,
	logger *zerolog.Logger,
) *ReviewService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if editWindow <= 0 {
		editWindow = models.DefaultEditWindowDays * 24 * time.Hour
	}
	return &ReviewService{
		bookings:   bookings,
		reviews:    reviews,
		ratings:    ratings,
		eventBus:   eventBus,
		notifier:   notifier,
		clock:      clock,
		editWindow: editWindow,
		logger:     logger,
	}
}

// EditWindow is how long after creation the owner may change a review.
func (s *ReviewService) EditWindow() time.Duration {
	return s.editWindow
}

func (s *ReviewService) windowDays() int {
	return int(s.editWindow / (24 * time.Hour))
}

// CanEdit reports whether review is still inside the edit window. The boundary
// is inclusive and moderation flags do not matter.
func (s *ReviewService) CanEdit(review *models.Review) bool {
	return s.clock.Now().Sub(review.CreatedAt) <= s.editWindow
}

// editableSince is the oldest created_at a write may still touch, read at write time.
func (s *ReviewService) editableSince() time.Time {
	return s.clock.Now().Add(-s.editWindow)
}

func (s *ReviewService) editDeadline(review *models.Review) time.Time {
	return review.CreatedAt.Add(s.editWindow)
}

func (s *ReviewService) CheckEligibility(ctx context.Context, clientID, bookingID int64) (*Eligibility, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if errors.Is(err, database.ErrNotFound) {
		return &Eligibility{Code: EligibilityBookingNotFound, Reason: "Booking not found."}, nil
	}
	if err != nil {
		return nil, err
	}

	if booking.ClientID != clientID {
		return &Eligibility{Code: EligibilityNotOwner, Reason: "You can only review your own bookings."}, nil
	}
	if booking.Status != models.BookingCompleted {
		return &Eligibility{Code: EligibilityNotCompleted, Reason: "You can only review completed bookings."}, nil
	}

	existing, err := s.reviews.GetReviewByBooking(ctx, bookingID)
	switch {
	case err == nil:
		deadline := s.editDeadline(existing)
		return &Eligibility{
			Code:             EligibilityAlreadyReviewed,
			Reason:           "You have already reviewed this booking.",
			HasExisting:      true,
			ExistingReviewID: existing.ID,
			CanEdit:          s.CanEdit(existing),
			EditDeadline:     &deadline,
		}, nil
	case !errors.Is(err, database.ErrNotFound):
		return nil, err
	}

	return &Eligibility{CanReview: true, Code: EligibilityOK}, nil
}

func validateReviewInput(in models.ReviewInput) (*string, error) {
	if in.Rating < models.MinRating || in.Rating > models.MaxRating {
		return nil, validationError("rating must be between %d and %d", models.MinRating, models.MaxRating)
	}
	comment := strings.TrimSpace(in.Comment)
	if utf8.RuneCountInString(comment) > models.MaxCommentLength {
		return nil, validationError("comment longer than %d characters", models.MaxCommentLength)
	}
	if comment == "" {
		return nil, nil
	}
	return &comment, nil
}

func (s *ReviewService) CreateReview(ctx context.Context, clientID int64, in models.ReviewInput) (*ReviewResult, error) {
	comment, err := validateReviewInput(in)
	if err != nil {
		metrics.IncReview("create", "invalid")
		return failed("Please check the rating and comment.", err, err.Error())
	}

	eligibility, err := s.CheckEligibility(ctx, clientID, in.BookingID)
	if err != nil {
		metrics.IncReview("create", "error")
		s.logger.Error().Err(err).Int64("booking_id", in.BookingID).Msg("review eligibility check failed")
		return failed("An error occurred while submitting your review.", err, err.Error())
	}
	if !eligibility.CanReview {
		metrics.IncReview("create", string(eligibility.Code))
		res, err := failed(eligibility.Reason, eligibilityError(eligibility, in.BookingID), eligibility.Reason)
		res.HasExisting = eligibility.HasExisting
		res.ReviewID = eligibility.ExistingReviewID
		return res, err
	}

	booking, err := s.bookings.GetBooking(ctx, in.BookingID)
	if err != nil {
		metrics.IncReview("create", "error")
		return failed("Booking not found.", err, "Booking not found")
	}

	review := &models.Review{
		BookingID:   in.BookingID,
		ClientID:    clientID,
		ProviderID:  booking.ProviderID,
		Rating:      in.Rating,
		Comment:     comment,
		CreatedAt:   s.clock.Now(),
		IsVisible:   true,
		IsAnonymous: in.IsAnonymous,
	}
	if err := s.reviews.CreateReview(ctx, review); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			// lost a race with another submission for the same booking
			metrics.IncReview("create", string(EligibilityAlreadyReviewed))
			res, cErr := failed("You have already reviewed this booking.", fmt.Errorf("%w: %v", ErrAlreadyReviewed, err), "Already reviewed")
			res.HasExisting = true
			return res, cErr
		}
		metrics.IncReview("create", "error")
		s.logger.Error().Err(err).Int64("booking_id", in.BookingID).Msg("error creating review")
		return failed("An error occurred while submitting your review.", err, err.Error())
	}
	metrics.IncReview("create", "ok")

	s.refreshRating(ctx, review.ProviderID)
	s.publishEvent(events.EventReviewCreated, review, clientID)

	author := "A client"
	if !review.IsAnonymous {
		author = fmt.Sprintf("Client #%d", clientID)
	}
	reviewID := review.ID
	sendNotification(ctx, s.notifier, s.logger, &models.Notification{
		UserID:      review.ProviderID,
		Type:        models.NotificationReview,
		Title:       "New review",
		Message:     fmt.Sprintf("%s left you a %d-star review!", author, review.Rating),
		ReferenceID: &reviewID,
	})

	s.logger.Info().Int64("review_id", review.ID).Int64("client_id", clientID).Int64("provider_id", review.ProviderID).
		Msg("review created")
	return &ReviewResult{Success: true, Message: "Review submitted successfully!", ReviewID: review.ID}, nil
}

func eligibilityError(e *Eligibility, bookingID int64) error {
	switch e.Code {
	case EligibilityBookingNotFound:
		return fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
	case EligibilityNotOwner:
		return fmt.Errorf("booking %d: %w", bookingID, ErrNotAuthorized)
	case EligibilityNotCompleted:
		return fmt.Errorf("booking %d is not completed: %w", bookingID, ErrInvalidTransition)
	case EligibilityAlreadyReviewed:
		return fmt.Errorf("review %d: %w", e.ExistingReviewID, ErrAlreadyReviewed)
	}
	return nil
}

// UpdateReview lets the owner change rating, comment and anonymity inside the edit window.
func (s *ReviewService) UpdateReview(ctx context.Context, clientID, reviewID int64, in models.ReviewInput) (*ReviewResult, error) {
	comment, err := validateReviewInput(in)
	if err != nil {
		metrics.IncReview("update", "invalid")
		return failed("Please check the rating and comment.", err, err.Error())
	}

	review, err := s.reviews.GetReview(ctx, reviewID)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncReview("update", "not_found")
		return failed("Review not found.", err, "Review not found")
	}
	if err != nil {
		metrics.IncReview("update", "error")
		return failed("An error occurred while updating your review.", err, err.Error())
	}

	if review.ClientID != clientID {
		metrics.IncReview("update", "not_authorized")
		return failed("You can only edit your own reviews.",
			fmt.Errorf("review %d: %w", reviewID, ErrNotAuthorized), "Unauthorized")
	}
	if !s.CanEdit(review) {
		metrics.IncReview("update", "window_expired")
		return failed(fmt.Sprintf("Reviews can only be edited within %d days of submission.", s.windowDays()),
			fmt.Errorf("review %d: %w", reviewID, ErrEditWindowExpired), "Edit window expired")
	}

	err = s.reviews.UpdateReviewContent(ctx, reviewID, in.Rating, comment, in.IsAnonymous, s.editableSince())
	if errors.Is(err, database.ErrConcurrentModification) {
		metrics.IncReview("update", "window_expired")
		return failed(fmt.Sprintf("Reviews can only be edited within %d days of submission.", s.windowDays()),
			fmt.Errorf("review %d: %w", reviewID, ErrEditWindowExpired), "Edit window expired")
	}
	if err != nil {
		metrics.IncReview("update", "error")
		s.logger.Error().Err(err).Int64("review_id", reviewID).Msg("error updating review")
		return failed("An error occurred while updating your review.", err, err.Error())
	}
	metrics.IncReview("update", "ok")

	review.Rating = in.Rating
	review.Comment = comment
	review.IsAnonymous = in.IsAnonymous

	s.refreshRating(ctx, review.ProviderID)
	s.publishEvent(events.EventReviewUpdated, review, clientID)
	s.logger.Info().Int64("review_id", reviewID).Int64("client_id", clientID).Msg("review updated")
	return &ReviewResult{Success: true, Message: "Review updated successfully!", ReviewID: reviewID}, nil
}

// DeleteReview removes a review. Admins may delete any review at any time; the
// owner only while the review is still editable.
func (s *ReviewService) DeleteReview(ctx context.Context, reviewID, actorID int64, isAdmin bool) (*ReviewResult, error) {
	review, err := s.reviews.GetReview(ctx, reviewID)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncReview("delete", "not_found")
		return failed("Review not found.", err, "Review not found")
	}
	if err != nil {
		metrics.IncReview("delete", "error")
		return failed("An error occurred while deleting the review.", err, err.Error())
	}

	if !isAdmin {
		if review.ClientID != actorID {
			metrics.IncReview("delete", "not_authorized")
			return failed("You can only delete your own reviews.",
				fmt.Errorf("review %d: %w", reviewID, ErrNotAuthorized), "Unauthorized")
		}
		if !s.CanEdit(review) {
			metrics.IncReview("delete", "window_expired")
			return failed(fmt.Sprintf("Reviews can only be deleted within %d days of submission.", s.windowDays()),
				fmt.Errorf("review %d: %w", reviewID, ErrEditWindowExpired), "Edit window expired")
		}
	}

	var since *time.Time
	if !isAdmin {
		cutoff := s.editableSince()
		since = &cutoff
	}
	err = s.reviews.DeleteReview(ctx, reviewID, since)
	if errors.Is(err, database.ErrConcurrentModification) {
		metrics.IncReview("delete", "window_expired")
		return failed(fmt.Sprintf("Reviews can only be deleted within %d days of submission.", s.windowDays()),
			fmt.Errorf("review %d: %w", reviewID, ErrEditWindowExpired), "Edit window expired")
	}
	if err != nil {
		metrics.IncReview("delete", "error")
		s.logger.Error().Err(err).Int64("review_id", reviewID).Msg("error deleting review")
		return failed("An error occurred while deleting the review.", err, err.Error())
	}
	metrics.IncReview("delete", "ok")

	s.refreshRating(ctx, review.ProviderID)
	s.publishEvent(events.EventReviewDeleted, review, actorID)

	actor := fmt.Sprintf("client %d", actorID)
	if isAdmin {
		actor = "admin"
	}
	s.logger.Info().Int64("review_id", reviewID).Str("actor", actor).Msg("review deleted")
	return &ReviewResult{Success: true, Message: "Review deleted successfully!"}, nil
}

// ModerateReview shows or hides a review. The edit window is left as it was.
func (s *ReviewService) ModerateReview(ctx context.Context, reviewID int64, visible bool, adminID int64) (*ReviewResult, error) {
	review, err := s.reviews.GetReview(ctx, reviewID)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncReview("moderate", "not_found")
		return failed("Review not found.", err)
	}
	if err != nil {
		metrics.IncReview("moderate", "error")
		return failed("An error occurred while moderating the review.", err, err.Error())
	}

	if err := s.reviews.SetReviewVisibility(ctx, reviewID, visible); err != nil {
		metrics.IncReview("moderate", "error")
		s.logger.Error().Err(err).Int64("review_id", reviewID).Msg("error moderating review")
		return failed("An error occurred while moderating the review.", err, err.Error())
	}
	metrics.IncReview("moderate", "ok")

	review.IsVisible = visible
	review.AdminModerated = true

	s.refreshRating(ctx, review.ProviderID)
	s.publishEvent(events.EventReviewModerated, review, adminID)
	s.logger.Info().Int64("review_id", reviewID).Int64("admin_id", adminID).Bool("visible", visible).Msg("review moderated")

	message := "Review has been hidden."
	if visible {
		message = "Review is now visible."
	}
	return &ReviewResult{Success: true, Message: message, ReviewID: reviewID}, nil
}

func (s *ReviewService) HideReview(ctx context.Context, reviewID, adminID int64) (*ReviewResult, error) {
	return s.ModerateReview(ctx, reviewID, false, adminID)
}

func (s *ReviewService) UnhideReview(ctx context.Context, reviewID, adminID int64) (*ReviewResult, error) {
	return s.ModerateReview(ctx, reviewID, true, adminID)
}

// refreshRating recomputes the provider aggregate. A failure is logged and
// does not undo the review write.
func (s *ReviewService) refreshRating(ctx context.Context, providerID int64) {
	rating, err := s.ratings.RecomputeProviderRating(ctx, providerID, s.clock.Now())
	if err != nil {
		s.logger.Error().Err(err).Int64("provider_id", providerID).Msg("error updating provider rating")
		return
	}

	s.logger.Info().Int64("provider_id", providerID).Float64("rating", rating.AverageRating).
		Int("count", rating.TotalReviews).Msg("provider rating updated")
	if s.eventBus == nil {
		return
	}
	payload := events.RatingEventPayload{
		ProviderID:    rating.ProviderID,
		AverageRating: rating.AverageRating,
		TotalReviews:  rating.TotalReviews,
	}
	if err := s.eventBus.PublishJSON(events.EventRatingUpdated, payload); err != nil {
		s.logger.Error().Err(err).Int64("provider_id", providerID).Msg("publish event error")
	}
}

func (s *ReviewService) GetReview(ctx context.Context, id int64) (*models.Review, error) {
	return s.reviews.GetReview(ctx, id)
}

func (s *ReviewService) GetReviewByBooking(ctx context.Context, bookingID int64) (*models.Review, error) {
	return s.reviews.GetReviewByBooking(ctx, bookingID)
}

func (s *ReviewService) GetProviderRating(ctx context.Context, providerID int64) (*models.ProviderRating, error) {
	return s.ratings.GetProviderRating(ctx, providerID)
}

// GetProviderSummary returns the aggregate, star distribution and one page of visible reviews.
// Anonymous reviews come back without the client id.
func (s *ReviewService) GetProviderSummary(ctx context.Context, providerID int64, page, pageSize int) (*models.ProviderSummary, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = models.DefaultPageSize
	}

	counts, err := s.reviews.ProviderRatingCounts(ctx, providerID)
	if err != nil {
		return nil, err
	}

	distribution := make(map[int]int, models.MaxRating)
	total, sum := 0, 0
	for star := models.MinRating; star <= models.MaxRating; star++ {
		distribution[star] = counts[star]
		total += counts[star]
		sum += star * counts[star]
	}

	percentages := make(map[int]float64, models.MaxRating)
	for star, n := range distribution {
		if total > 0 {
			percentages[star] = math.Round(float64(n)/float64(total)*1000) / 10
		} else {
			percentages[star] = 0
		}
	}

	average := 0.0
	if total > 0 {
		average = math.Round(float64(sum)/float64(total)*10) / 10
	}

	reviews, err := s.reviews.ListProviderReviews(ctx, providerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	for _, r := range reviews {
		if r.IsAnonymous {
			r.ClientID = 0
		}
	}

	return &models.ProviderSummary{
		ProviderID:         providerID,
		AverageRating:      average,
		TotalReviews:       total,
		RatingDistribution: distribution,
		RatingPercentages:  percentages,
		Reviews:            reviews,
		CurrentPage:        page,
		TotalPages:         (total + pageSize - 1) / pageSize,
		PageSize:           pageSize,
	}, nil
}

func (s *ReviewService) ListAdminReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.Review, error) {
	return s.reviews.ListReviews(ctx, filter)
}

func (s *ReviewService) publishEvent(eventType string, r *models.Review, actorID int64) {
	if s.eventBus == nil {
		return
	}

	payload := events.ReviewEventPayload{
		ReviewID:   r.ID,
		BookingID:  r.BookingID,
		ProviderID: r.ProviderID,
		Rating:     r.Rating,
		Visible:    r.IsVisible,
		ActorID:    actorID,
		At:         s.clock.Now(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("review_id", r.ID).Msg("publish event error")
	}
}
