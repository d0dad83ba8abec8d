package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts turn outcomes across every Synchronizer of the process.
type Metrics struct {
	TurnsStarted       prometheus.Counter
	TurnsSettled       prometheus.Counter
	TurnsAborted       prometheus.Counter
	StaleResponses     prometheus.Counter
	DuplicateSubmits   prometheus.Counter
	RateLimited        prometheus.Counter
	SubscriptionErrors *prometheus.CounterVec
	AgentLatency       prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "turns_started_total",
			Help:      "Turns that passed the single-flight guard.",
		}),
		TurnsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "turns_settled_total",
			Help:      "Turns settled with an assistant reply.",
		}),
		TurnsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "turns_aborted_total",
			Help:      "Turns rolled back because the agent was unavailable.",
		}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "stale_responses_total",
			Help:      "Agent replies dropped because the project changed.",
		}),
		DuplicateSubmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "duplicate_submits_total",
			Help:      "Submissions rejected while a turn was in flight.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "rate_limited_submits_total",
			Help:      "Submissions rejected by the per-session rate limit.",
		}),
		SubscriptionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "subscription_errors_total",
			Help:      "Terminal snapshot subscription failures.",
		}, []string{"collection"}),
		AgentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intelliexo",
			Subsystem: "session",
			Name:      "agent_latency_seconds",
			Help:      "Round trip time of agent calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TurnsStarted,
			m.TurnsSettled,
			m.TurnsAborted,
			m.StaleResponses,
			m.DuplicateSubmits,
			m.RateLimited,
			m.SubscriptionErrors,
			m.AgentLatency,
		)
	}
	return m
}
