// Package metrics provides Prometheus metrics for the Conflux connection
// lifecycle: preparations, connect attempts, active connections, port
// forwards and remote command executions.
//
// Basic usage:
//
//	metrics.Preparations.WithLabelValues("postgres").Inc()
//
//	timer := metrics.NewTimer()
//	err := connector.Connect(ctx)
//	metrics.ObserveConnect("postgres", timer.Stop(), err)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Preparations counts completed lazy preparations by protocol
	Preparations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflux",
			Name:      "preparations_total",
			Help:      "Total number of completed connector preparations",
		},
		[]string{"protocol"},
	)

	// ConnectAttempts counts connection attempts by protocol and outcome
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflux",
			Name:      "connect_attempts_total",
			Help:      "Total number of connection attempts",
		},
		[]string{"protocol", "outcome"},
	)

	// ConnectDuration tracks connection establishment latency
	ConnectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conflux",
			Name:      "connect_duration_seconds",
			Help:      "Connection establishment latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"protocol"},
	)

	// ActiveConnections tracks currently connected connectors
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conflux",
			Name:      "active_connections",
			Help:      "Currently connected connectors",
		},
		[]string{"protocol"},
	)

	// ActiveForwards tracks live port forwards per remote transport
	ActiveForwards = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conflux",
			Name:      "active_port_forwards",
			Help:      "Live port forwards",
		},
		[]string{"remote"},
	)

	// RemoteCommands counts remote command executions by outcome
	RemoteCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflux",
			Name:      "remote_commands_total",
			Help:      "Remote command executions",
		},
		[]string{"remote", "outcome"},
	)
)

// Timer measures elapsed time for an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveConnect records one connection attempt
func ObserveConnect(protocol string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	ConnectAttempts.WithLabelValues(protocol, outcome).Inc()
	if err == nil {
		ConnectDuration.WithLabelValues(protocol).Observe(elapsed.Seconds())
	}
}

// ObserveCommand records one remote command execution
func ObserveCommand(remote string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	RemoteCommands.WithLabelValues(remote, outcome).Inc()
}
