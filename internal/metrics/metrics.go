package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketplace"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Lifecycle transitions by entity, action and outcome.",
		},
		[]string{"entity", "action", "outcome"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_claims_total",
			Help:      "Emergency accept attempts by outcome (won, lost, error).",
		},
		[]string{"outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification publish attempts by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	reviews = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_operations_total",
			Help:      "Review operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, claims, notifications, reviews)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncTransition(entity, action, outcome string) {
	transitions.WithLabelValues(entity, action, outcome).Inc()
}

func IncClaim(outcome string) {
	claims.WithLabelValues(outcome).Inc()
}

func IncNotification(backend, outcome string) {
	notifications.WithLabelValues(backend, outcome).Inc()
}

func IncReview(operation, outcome string) {
	reviews.WithLabelValues(operation, outcome).Inc()
}
