// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics holds the Prometheus collectors of the service. All
// metrics are registered once on the default registry under the "weekcal"
// namespace and exposed by promhttp on GET /metrics.
//
// Metrics:
//   - weekcal_http_requests_total{method,route,status}
//   - weekcal_http_request_duration_seconds{method,route}
//   - weekcal_shelly_connections{status}
//   - weekcal_shelly_messages_total{direction,event}
//   - weekcal_shelly_commands_total{result}
//   - weekcal_realtime_clients
//   - weekcal_timer_transitions_total{action}
//   - weekcal_journal_entries_total{source}
//   - weekcal_maintenance_runs_total{job,result}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weekcal"

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	ShellyConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "shelly_connections",
		Help:      "Shelly cloud connections by status",
	}, []string{"status"})

	ShellyMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shelly_messages_total",
		Help:      "Shelly cloud messages by direction and event",
	}, []string{"direction", "event"})

	ShellyCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shelly_commands_total",
		Help:      "Shelly commands by result: sent, queued, rate_limited, queue_full, failed",
	}, []string{"result"})

	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_clients",
		Help:      "Connected browser realtime clients",
	})

	TimerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timer_transitions_total",
		Help:      "Device usage timer transitions by action",
	}, []string{"action"})

	JournalEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_entries_total",
		Help:      "Journal entries posted by source",
	}, []string{"source"})

	MaintenanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "maintenance_runs_total",
		Help:      "Scheduled maintenance job runs by job and result",
	}, []string{"job", "result"})
)

// Result labels a job or command outcome from its error.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
