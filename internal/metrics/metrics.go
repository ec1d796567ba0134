// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uolems_session_resolutions_total",
			Help: "Session resolutions by terminal state",
		},
		[]string{"state"},
	)

	LoginFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uolems_login_failures_total",
			Help: "Failed login attempts by error code",
		},
		[]string{"code"},
	)

	ManagerToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uolems_manager_toggles_total",
			Help: "Manager flag toggles by result (promoted, removed, error)",
		},
		[]string{"result"},
	)

	ConsoleSnapshots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uolems_console_snapshots_total",
			Help: "Live query snapshots applied by admin consoles",
		},
		[]string{"stream"},
	)

	OpenConsoles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uolems_open_consoles",
		Help: "Admin consoles currently holding live subscriptions",
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uolems_http_requests_total",
			Help: "HTTP requests handled",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uolems_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
