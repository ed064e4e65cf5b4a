// Package metrics holds the Prometheus collectors shared across handlers
// and workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicqr_http_requests_total",
		Help: "HTTP requests by method, path pattern and status code.",
	}, []string{"method", "path", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinicqr_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	VisitsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicqr_visits_created_total",
		Help: "Reception tickets issued.",
	})

	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicqr_claims_total",
		Help: "Visit claims by kind and outcome.",
	}, []string{"kind", "outcome"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicqr_notifications_total",
		Help: "Notification deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})

	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinicqr_realtime_clients",
		Help: "Connected realtime board clients.",
	})
)
