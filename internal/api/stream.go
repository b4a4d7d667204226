package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketplace/internal/models"
)

const streamKeepAlive = 25 * time.Second

// handleRecentNotifications reads the live feed's short inbox, newest first.
func (s *HTTPServer) handleRecentNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r)
	if !ok {
		return
	}
	if s.svc.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live notifications are not available")
		return
	}
	limit, err := queryInt(r, "limit", models.DefaultNotificationsLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list, err := s.svc.Feed.Recent(r.Context(), userID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleNotificationStream pushes the caller's notifications as server-sent events
// until the client goes away.
func (s *HTTPServer) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r)
	if !ok {
		return
	}
	if s.svc.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live notifications are not available")
		return
	}

	ctx := r.Context()
	ch, cancel, err := s.svc.Feed.Subscribe(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("notification stream subscribe failed")
		writeError(w, http.StatusServiceUnavailable, "live notifications are not available")
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	// the server write timeout would cut the stream
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("encode notification")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: notification\ndata: %s\n\n", n.ID, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
