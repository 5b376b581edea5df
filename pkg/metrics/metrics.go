package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DispatchDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_deliveries_total", Help: "Per-recipient delivery outcomes"},
		[]string{"status"}, // sent, error, dry_run
	)
	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_attempts_total", Help: "Dispatch runs by outcome"},
		[]string{"status"}, // success, fail
	)
	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_run_duration_seconds",
			Help:    "Time spent dispatching one mailing",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_ticks_total", Help: "Selector passes executed"},
	)
	SchedulerTickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_tick_errors_total", Help: "Selector passes that failed"},
	)
	SchedulerDueSelected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_due_selected",
			Help:    "Due mailings picked up per tick",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of one selector pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		DispatchDeliveries, DispatchAttempts, DispatchDuration,
		SchedulerTicks, SchedulerTickErrors, SchedulerDueSelected, SchedulerTickDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
