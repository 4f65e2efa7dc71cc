package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of stock holds created",
	})

	ReservationsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_rejected_total",
		Help: "Total number of reserve calls rejected for insufficient stock",
	})

	ReservationsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_released_total",
		Help: "Total number of stock holds released by compensation",
	})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_expired_total",
		Help: "Total number of stock holds expired by the TTL sweep",
	})

	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of checkout attempts by outcome",
	}, []string{"result"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "End-to-end latency of the checkout saga",
		Buckets: prometheus.DefBuckets,
	})

	CompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_compensations_total",
		Help: "Total number of checkouts that released reservations after a failed step",
	})

	ReconciliationsRequiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_reconciliations_required_total",
		Help: "Total number of failed compensations needing manual reconciliation",
	})

	WarehouseResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_resolutions_total",
		Help: "Total number of warehouse resolutions by outcome",
	}, []string{"result"})

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_assignments_total",
		Help: "Total number of worker assignment attempts by role and outcome",
	}, []string{"role", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
