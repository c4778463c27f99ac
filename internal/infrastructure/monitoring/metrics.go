package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type ReservationMetrics struct {
	OutcomesTotal  *prometheus.CounterVec
	RetriesTotal   *prometheus.CounterVec
	EventsTotal    *prometheus.CounterVec
	OverdueLoans   prometheus.Gauge
	OverdueScanDur prometheus.Histogram
}

var (
	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booklend_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Reservation = ReservationMetrics{
		OutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booklend_reservation_outcomes_total",
				Help: "Reservation workflow results by operation and outcome code.",
			},
			[]string{"operation", "outcome"},
		),
		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booklend_reservation_retries_total",
				Help: "Unit of work attempts repeated after a concurrency conflict.",
			},
			[]string{"operation"},
		),
		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booklend_loan_events_published_total",
				Help: "Loan events handed to the broker, by type and status.",
			},
			[]string{"type", "status"},
		),
		OverdueLoans: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "booklend_overdue_loans",
				Help: "Active loans past their due date at the last overdue scan.",
			},
		),
		OverdueScanDur: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "booklend_overdue_scan_duration_seconds",
				Help:    "Duration of the overdue loan scan.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
)

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

// RecordReservation counts one finished workflow call. outcome is "success" or an error code.
func RecordReservation(operation, outcome string) {
	Reservation.OutcomesTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordRetry(operation string) {
	Reservation.RetriesTotal.WithLabelValues(operation).Inc()
}

func RecordEventPublished(eventType, status string) {
	Reservation.EventsTotal.WithLabelValues(eventType, status).Inc()
}

func RecordOverdueScan(overdue int, duration time.Duration) {
	Reservation.OverdueLoans.Set(float64(overdue))
	Reservation.OverdueScanDur.Observe(duration.Seconds())
}
