package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salon_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "salon_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "salon_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "salon_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	SlotClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_slot_claims_total",
			Help: "Slot claim attempts by result",
		},
		[]string{"result"},
	)

	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_settlements_total",
			Help: "Settlement attempts by method and outcome",
		},
		[]string{"method", "status"},
	)

	Compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_compensations_total",
			Help: "Booking compensations by result",
		},
		[]string{"result"},
	)

	BookingsSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salon_bookings_swept_total",
			Help: "Bookings moved by background sweeps",
		},
		[]string{"reason"},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			DBTxDuration,
			OutboxLag,
			RabbitPublishRetries,
			RateLimitExceeded,
			SlotClaims,
			Settlements,
			Compensations,
			BookingsSwept,
		)
	})
}
