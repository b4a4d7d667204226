package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/export"
	"marketplace/internal/lifecycle"
	"marketplace/internal/models"
	"marketplace/internal/service"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type bookingRequest struct {
	ProviderID  int64   `json:"provider_id"`
	ServiceID   int64   `json:"service_id"`
	ScheduledAt string  `json:"scheduled_at"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Notes       string  `json:"notes"`
}

type emergencyRequest struct {
	ServiceID int64   `json:"service_id"`
	Details   string  `json:"details"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// bookingView is a booking plus what the caller may do with it next.
type bookingView struct {
	*models.Booking
	Actions []lifecycle.Action `json:"actions"`
}

type reviewView struct {
	*models.Review
	EditDeadline time.Time `json:"edit_deadline"`
	CanEdit      bool      `json:"can_edit"`
}

type reviewRequest struct {
	BookingID   int64  `json:"booking_id"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health != nil {
		if err := s.svc.Health.PingContext(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// actor resolves the calling user or writes a 401.
func (s *HTTPServer) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := s.auth.ActorID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrValidation, name)
	}
	return v, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a boolean", service.ErrValidation, name)
	}
	return &v, nil
}

// parseTime accepts RFC 3339; an empty value is left for the service to reject.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: scheduled_at must be RFC 3339", service.ErrValidation)
	}
	return t.UTC(), nil
}

// optionalReason reads {"reason": ...}; an empty body, sized or chunked, means no reason.
func optionalReason(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return req.Reason, nil
}

// Bookings

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req bookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	scheduled, err := parseTime(req.ScheduledAt)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	id, err := s.svc.Bookings.CreateBooking(r.Context(), models.BookingRequest{
		ClientID:    clientID,
		ProviderID:  req.ProviderID,
		ServiceID:   req.ServiceID,
		ScheduledAt: scheduled,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Notes:       req.Notes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	b, err := s.svc.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if b.ClientID != actorID && b.ProviderID != actorID {
		s.writeServiceError(w, r, service.ErrNotAuthorized)
		return
	}
	writeJSON(w, http.StatusOK, bookingView{Booking: b, Actions: s.svc.Bookings.AvailableActions(b, actorID)})
}

// handleListBookings lists the actor's bookings; ?role=provider switches sides
// and ?status filters client bookings.
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}

	var (
		list []*models.Booking
		err  error
	)
	switch role := r.URL.Query().Get("role"); role {
	case "", "client":
		var status *models.BookingStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			st := models.BookingStatus(raw)
			status = &st
		}
		list, err = s.svc.Bookings.ListClientBookings(r.Context(), actorID, status)
	case "provider":
		list, err = s.svc.Bookings.ListProviderBookings(r.Context(), actorID)
	default:
		writeError(w, http.StatusBadRequest, "role must be client or provider")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleBookingAction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	reason, err := optionalReason(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	ctx := r.Context()
	switch r.PathValue("action") {
	case "accept":
		err = s.svc.Bookings.Accept(ctx, id, actorID)
	case "reject":
		err = s.svc.Bookings.Reject(ctx, id, actorID, reason)
	case "start":
		err = s.svc.Bookings.Start(ctx, id, actorID)
	case "complete":
		err = s.svc.Bookings.Complete(ctx, id, actorID)
	case "cancel":
		err = s.svc.Bookings.CancelByClient(ctx, id, actorID, reason)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	b, err := s.svc.Bookings.GetBooking(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingView{Booking: b, Actions: s.svc.Bookings.AvailableActions(b, actorID)})
}

func (s *HTTPServer) handleReviewEligibility(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	e, err := s.svc.Reviews.CheckEligibility(r.Context(), clientID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Emergencies

func (s *HTTPServer) handleCreateEmergency(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req emergencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	id, err := s.svc.Emergencies.CreateEmergency(r.Context(), models.EmergencyInput{
		ClientID:  clientID,
		ServiceID: req.ServiceID,
		Details:   req.Details,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *HTTPServer) handleGetEmergency(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actor(w, r); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	e, err := s.svc.Emergencies.GetEmergency(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *HTTPServer) handleListPendingEmergencies(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actor(w, r); !ok {
		return
	}
	serviceID, err := queryInt(r, "service_id", 0)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list, err := s.svc.Emergencies.ListPendingEmergencies(r.Context(), int64(serviceID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.EmergencyRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleListClientEmergencies(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.actor(w, r)
	if !ok {
		return
	}

	list, err := s.svc.Emergencies.ListClientEmergencies(r.Context(), clientID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.EmergencyRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleEmergencyAction(w http.ResponseWriter, r *http.Request) {
	providerID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	var err error
	switch r.PathValue("action") {
	case "accept":
		err = s.svc.Emergencies.AcceptEmergency(ctx, id, providerID)
	case "decline":
		s.svc.Emergencies.DeclineEmergency(ctx, id, providerID)
		writeJSON(w, http.StatusOK, map[string]bool{"declined": true})
		return
	case "start":
		err = s.svc.Emergencies.StartEmergency(ctx, id, providerID)
	case "complete":
		err = s.svc.Emergencies.CompleteEmergency(ctx, id, providerID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	e, err := s.svc.Emergencies.GetEmergency(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Reviews

func (s *HTTPServer) writeReviewResult(w http.ResponseWriter, r *http.Request, res *service.ReviewResult, err error, okStatus int) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("review request failed")
		}
		if res == nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, okStatus, res)
}

func (s *HTTPServer) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.Reviews.CreateReview(r.Context(), clientID, models.ReviewInput{
		BookingID:   req.BookingID,
		Rating:      req.Rating,
		Comment:     req.Comment,
		IsAnonymous: req.IsAnonymous,
	})
	s.writeReviewResult(w, r, res, err, http.StatusCreated)
}

func (s *HTTPServer) handleGetReview(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	review, err := s.svc.Reviews.GetReview(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeReview(w, r, review, actorID)
}

// handleBookingReview returns the review left on a booking to either party of it.
func (s *HTTPServer) handleBookingReview(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	b, err := s.svc.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if b.ClientID != actorID && b.ProviderID != actorID {
		s.writeServiceError(w, r, service.ErrNotAuthorized)
		return
	}
	review, err := s.svc.Reviews.GetReviewByBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeReview(w, r, review, actorID)
}

// writeReview hides moderated reviews and anonymous authors from everyone but the author.
func (s *HTTPServer) writeReview(w http.ResponseWriter, r *http.Request, review *models.Review, actorID int64) {
	author := review.ClientID == actorID
	if !author {
		if !review.IsVisible {
			s.writeServiceError(w, r, service.ErrNotFound)
			return
		}
		if review.IsAnonymous {
			review.ClientID = 0
		}
	}
	writeJSON(w, http.StatusOK, reviewView{
		Review:       review,
		EditDeadline: review.CreatedAt.Add(s.svc.Reviews.EditWindow()).UTC(),
		CanEdit:      author && s.svc.Reviews.CanEdit(review),
	})
}

func (s *HTTPServer) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.Reviews.UpdateReview(r.Context(), clientID, id, models.ReviewInput{
		Rating:      req.Rating,
		Comment:     req.Comment,
		IsAnonymous: req.IsAnonymous,
	})
	s.writeReviewResult(w, r, res, err, http.StatusOK)
}

func (s *HTTPServer) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := s.svc.Reviews.DeleteReview(r.Context(), id, clientID, false)
	s.writeReviewResult(w, r, res, err, http.StatusOK)
}

func (s *HTTPServer) handleProviderRating(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rating, err := s.svc.Reviews.GetProviderRating(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (s *HTTPServer) handleProviderSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "page_size", models.DefaultPageSize)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	summary, err := s.svc.Reviews.GetProviderSummary(r.Context(), id, page, pageSize)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Notifications

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", models.DefaultNotificationsLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list, err := s.svc.Notifications.List(r.Context(), userID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.svc.Notifications.MarkRead(r.Context(), id, userID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admin

func reviewFilter(r *http.Request) (models.ReviewFilter, error) {
	visible, err := queryBool(r, "visible")
	if err != nil {
		return models.ReviewFilter{}, err
	}
	moderated, err := queryBool(r, "moderated")
	if err != nil {
		return models.ReviewFilter{}, err
	}
	return models.ReviewFilter{Visible: visible, Moderated: moderated}, nil
}

func (s *HTTPServer) handleAdminListReviews(w http.ResponseWriter, r *http.Request) {
	filter, err := reviewFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list, err := s.svc.Reviews.ListAdminReviews(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Review{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleAdminExportReviews streams an xlsx report; ?save=true also keeps a copy in the export directory.
func (s *HTTPServer) handleAdminExportReviews(w http.ResponseWriter, r *http.Request) {
	filter, err := reviewFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list, err := s.svc.Reviews.ListAdminReviews(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	now := s.svc.Clock.Now()
	if save, _ := queryBool(r, "save"); save != nil && *save && s.svc.ExportDir != "" {
		path, err := export.SaveReviews(s.svc.ExportDir, list, now)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to save review export")
		} else {
			s.logger.Info().Str("file_path", path).Int("reviews", len(list)).Msg("review export saved")
		}
	}

	var buf bytes.Buffer
	if err := export.WriteReviews(&buf, list, now); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reviews_%s.xlsx"`, now.UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleAdminModerate(w http.ResponseWriter, r *http.Request) {
	adminID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		res *service.ReviewResult
		err error
	)
	switch r.PathValue("action") {
	case "hide":
		res, err = s.svc.Reviews.HideReview(r.Context(), id, adminID)
	case "unhide":
		res, err = s.svc.Reviews.UnhideReview(r.Context(), id, adminID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	s.writeReviewResult(w, r, res, err, http.StatusOK)
}

func (s *HTTPServer) handleAdminDeleteReview(w http.ResponseWriter, r *http.Request) {
	adminID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := s.svc.Reviews.DeleteReview(r.Context(), id, adminID, true)
	s.writeReviewResult(w, r, res, err, http.StatusOK)
}
