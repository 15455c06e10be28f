package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "matches_total", Help: "Total number of rides assigned to a driver"})
	MatchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_matching", Name: "match_latency_seconds", Help: "Ride request to assignment latency seconds"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_matching", Name: "drivers_online", Help: "Number of online drivers"})
	ActiveRides   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_matching", Name: "active_rides", Help: "Rides currently in the active-ride index"})

	RideRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "ride_requests_total", Help: "Ride requests by outcome"},
		[]string{"outcome"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "ride_transitions_total", Help: "Accepted ride status transitions"},
		[]string{"from", "to"},
	)
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "claim_conflicts_total", Help: "Driver claims lost to a concurrent request"})
	PaymentErrors  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "payment_errors_total", Help: "Payment gateway failures by operation"},
		[]string{"op"},
	)
	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "location_updates_total", Help: "Driver location updates applied"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
