// Package metrics registers and updates this module's prometheus series:
// operations completed (by channel/kind/outcome), bytes encoded/decoded
// across every connection, live monitor queue depth, and reconnect
// attempts/successes. Mirrors the teacher's internal/observability in
// shape — a sync.Once-guarded MustRegister plus a handful of
// Record/Set-named helpers — generalized from HTTP/seed-proxy series to
// this module's own domain.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	opsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pva",
			Subsystem: "client",
			Name:      "operations_completed_total",
			Help:      "Operations that reached Done, by channel, kind, and outcome.",
		},
		[]string{"channel", "kind", "outcome"},
	)
	bytesEncoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pva",
			Subsystem: "wire",
			Name:      "bytes_total",
			Help:      "Bytes written to or read from a connection's socket.",
		},
		[]string{"direction"},
	)
	monitorQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pva",
			Subsystem: "client",
			Name:      "monitor_queue_depth",
			Help:      "Current number of data entries queued in a Monitor's local FIFO.",
		},
		[]string{"channel"},
	)
	reconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pva",
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Redial attempts made against an address, including the first.",
		},
		[]string{"addr"},
	)
	reconnectSuccesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pva",
			Subsystem: "transport",
			Name:      "reconnect_success_total",
			Help:      "Redial attempts that succeeded.",
		},
		[]string{"addr"},
	)
)

// Register installs every series with the default prometheus registry.
// Idempotent; safe to call from multiple packages during init.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(opsCompleted, bytesEncoded, monitorQueueDepth, reconnectAttempts, reconnectSuccesses)
	})
}

// RecordOperation records one operation reaching Done. outcome is
// "ok", "error", or "cancelled".
func RecordOperation(channel, kind, outcome string) {
	Register()
	opsCompleted.WithLabelValues(channel, kind, outcome).Inc()
}

// RecordBytesEncoded adds n to the encoded (written) byte counter.
func RecordBytesEncoded(n int) {
	Register()
	bytesEncoded.WithLabelValues("encoded").Add(float64(n))
}

// RecordBytesDecoded adds n to the decoded (read) byte counter.
func RecordBytesDecoded(n int) {
	Register()
	bytesEncoded.WithLabelValues("decoded").Add(float64(n))
}

// SetMonitorQueueDepth reports a Monitor's current data-entry backlog.
func SetMonitorQueueDepth(channel string, depth int) {
	Register()
	monitorQueueDepth.WithLabelValues(channel).Set(float64(depth))
}

// RecordReconnectAttempt records one Redial attempt against addr.
func RecordReconnectAttempt(addr string) {
	Register()
	reconnectAttempts.WithLabelValues(addr).Inc()
}

// RecordReconnectSuccess records one Redial attempt that succeeded.
func RecordReconnectSuccess(addr string) {
	Register()
	reconnectSuccesses.WithLabelValues(addr).Inc()
}
