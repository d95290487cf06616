package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of draft orders created",
	})

	ReservationsReusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_reused_total",
		Help: "Total number of reserve calls answered with an existing draft",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_failed_total",
		Help: "Total number of failed reserve calls",
	}, []string{"reason"})

	RentalDetailsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_details_submitted_total",
		Help: "Total number of accepted rental detail submissions",
	})

	RentalDetailsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_details_rejected_total",
		Help: "Total number of rejected rental detail submissions",
	}, []string{"reason"})

	OrdersCODConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cod_confirmed_total",
		Help: "Total number of orders confirmed as cash on delivery",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders completed by an online payment",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of orders expired by the reservation window",
	})

	OrdersPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_purged_total",
		Help: "Total number of cancelled or expired orders deleted",
	})

	VehicleWindowsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vehicle_windows_closed_total",
		Help: "Total number of approved vehicle windows closed after their end date",
	})

	TransactionsPostedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transactions_posted_total",
		Help: "Total number of revenue split transactions recorded",
	})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of background sweeps",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	SweepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_failures_total",
		Help: "Total number of background sweeps that returned an error",
	}, []string{"sweep"})

	SweepsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeps_skipped_total",
		Help: "Total number of sweeps skipped because another instance held the lock",
	}, []string{"sweep"})

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
