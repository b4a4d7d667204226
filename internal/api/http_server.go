package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/domain"
	"marketplace/internal/metrics"
	"marketplace/internal/notify"
	"marketplace/internal/service"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// HealthChecker is satisfied by *database.DB.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Services bundles what the handlers call into.
type Services struct {
	Bookings      *service.BookingService
	Emergencies   *service.EmergencyService
	Reviews       *service.ReviewService
	Notifications *notify.Dispatcher
	Feed          notify.Feed
	Health        HealthChecker
	Clock         domain.Clock
	ExportDir     string
}

// HTTPServer exposes the marketplace lifecycle over JSON.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	auth    *HTTPAuth
	logger  *zerolog.Logger
	handler http.Handler
	server  *http.Server
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if svc.Clock == nil {
		svc.Clock = domain.SystemClock{}
	}
	srv := &HTTPServer{cfg: cfg, svc: svc, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	srv.routes(mux)
	srv.handler = srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.IncHTTP(pattern)
			h(w, r)
		}))
	}

	handle("GET /healthz", s.handleHealth)
	handle("GET /readyz", s.handleReady)

	handle("POST /api/v1/bookings", s.handleCreateBooking)
	handle("GET /api/v1/bookings", s.handleListBookings)
	handle("GET /api/v1/bookings/{id}", s.handleGetBooking)
	handle("POST /api/v1/bookings/{id}/{action}", s.handleBookingAction)
	handle("GET /api/v1/bookings/{id}/review-eligibility", s.handleReviewEligibility)
	handle("GET /api/v1/bookings/{id}/review", s.handleBookingReview)

	handle("POST /api/v1/emergencies", s.handleCreateEmergency)
	handle("GET /api/v1/emergencies", s.handleListClientEmergencies)
	handle("GET /api/v1/emergencies/pending", s.handleListPendingEmergencies)
	handle("GET /api/v1/emergencies/{id}", s.handleGetEmergency)
	handle("POST /api/v1/emergencies/{id}/{action}", s.handleEmergencyAction)

	handle("POST /api/v1/reviews", s.handleCreateReview)
	handle("GET /api/v1/reviews/{id}", s.handleGetReview)
	handle("PUT /api/v1/reviews/{id}", s.handleUpdateReview)
	handle("DELETE /api/v1/reviews/{id}", s.handleDeleteReview)

	handle("GET /api/v1/providers/{id}/rating", s.handleProviderRating)
	handle("GET /api/v1/providers/{id}/reviews", s.handleProviderSummary)

	handle("GET /api/v1/notifications", s.handleListNotifications)
	handle("GET /api/v1/notifications/recent", s.handleRecentNotifications)
	handle("GET /api/v1/notifications/stream", s.handleNotificationStream)
	handle("POST /api/v1/notifications/{id}/read", s.handleMarkNotificationRead)

	handle("GET /api/v1/admin/reviews", s.handleAdminListReviews)
	handle("GET /api/v1/admin/reviews/export", s.handleAdminExportReviews)
	handle("POST /api/v1/admin/reviews/{id}/{action}", s.handleAdminModerate)
	handle("DELETE /api/v1/admin/reviews/{id}", s.handleAdminDeleteReview)
}

// Handler returns the full middleware chain, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		event := s.logger.Debug()
		if recorder.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, notify.ErrInvalidNotification):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, status, map[string]string{"error": service.UserMessage(err)})
		return
	}
	writeJSON(w, status, map[string]string{"error": service.UserMessage(err), "detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", service.ErrValidation, err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach Flush and write deadlines.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
