// Package metrics provides Prometheus instrumentation for the chat engine.
// It exposes gauges for pool and chat counts, counters for match and message
// outcomes, and a histogram for match latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WaitingPoolSize tracks the current number of guests in the waiting pool.
	WaitingPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tutorlink_waiting_pool_size",
		Help: "Current number of guests in the matching waiting pool",
	})

	// ActiveChats tracks the current number of active chats.
	ActiveChats = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tutorlink_active_chats",
		Help: "Current number of active chats",
	})

	// MatchAttempts counts findMatch calls by resulting status.
	MatchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorlink_match_attempts_total",
		Help: "Total findMatch calls by resulting status",
	}, []string{"status"})

	// MatchLatency records findMatch processing latency in seconds.
	MatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tutorlink_match_latency_seconds",
		Help:    "findMatch processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MessagesTotal counts stored messages, labeled by flag state:
	// "clean" or "flagged".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorlink_messages_total",
		Help: "Total messages stored by flag state",
	}, []string{"state"})

	// ReportsTotal counts filed abuse reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tutorlink_reports_total",
		Help: "Total abuse reports filed",
	})

	// AutoBansTotal counts automatic bans from the report threshold.
	AutoBansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tutorlink_auto_bans_total",
		Help: "Total automatic bans triggered by report threshold",
	})

	// SweptChats counts chats force-ended by the stale-chat sweeper.
	SweptChats = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tutorlink_swept_chats_total",
		Help: "Total stale chats force-ended by the sweeper",
	})
)

func init() {
	prometheus.MustRegister(
		WaitingPoolSize,
		ActiveChats,
		MatchAttempts,
		MatchLatency,
		MessagesTotal,
		ReportsTotal,
		AutoBansTotal,
		SweptChats,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
