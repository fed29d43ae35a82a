package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaguard_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotaguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaguard_quota_decisions_total",
			Help: "Total number of daily quota reservation decisions.",
		},
		[]string{"outcome", "reason"},
	)

	QuotaReserveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotaguard_quota_reserve_duration_seconds",
			Help:    "Time spent admitting a daily quota reservation.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReservationTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaguard_reservation_transitions_total",
			Help: "Total number of reservation state transitions.",
		},
		[]string{"status"},
	)

	ReservationsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotaguard_reservations_expired_total",
			Help: "Total number of reservations removed by the TTL sweep.",
		},
	)

	QuotaRefundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotaguard_quota_refunds_total",
			Help: "Total number of administrative quota refunds.",
		},
	)

	MaintenanceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaguard_maintenance_failures_total",
			Help: "Total number of failed best-effort maintenance runs.",
		},
		[]string{"operation"},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaguard_ratelimit_decisions_total",
			Help: "Total number of per-IP rate limit decisions.",
		},
		[]string{"outcome"},
	)

	StorageConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotaguard_storage_conflicts_total",
			Help: "Total number of unique-constraint races resolved by retry or re-read.",
		},
		[]string{"operation"},
	)

	EventsPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotaguard_events_publish_failures_total",
			Help: "Total number of access decision events that could not be published.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaDecisionsTotal,
		QuotaReserveDuration,
		ReservationTransitionsTotal,
		ReservationsExpiredTotal,
		QuotaRefundsTotal,
		MaintenanceFailuresTotal,
		RateLimitDecisionsTotal,
		StorageConflictsTotal,
		EventsPublishFailuresTotal,
	)
}
