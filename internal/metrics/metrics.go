package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_polls_total",
			Help: "Source polls by outcome",
		},
		[]string{"source", "outcome"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "proactive_insights_poll_duration_seconds",
			Help: "Adapter poll latency in seconds",
		},
		[]string{"source"},
	)

	InsightsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_generated_total",
			Help: "Candidate insights accepted into the queue",
		},
		[]string{"source", "urgency"},
	)

	InsightsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_suppressed_total",
			Help: "Candidates dropped by the low-value policy",
		},
		[]string{"source"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_deliveries_total",
			Help: "Routed insights by effective channel",
		},
		[]string{"channel"},
	)

	Downgrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_downgrades_total",
			Help: "Push deliveries downgraded by the per-source rate limit",
		},
		[]string{"source"},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_send_failures_total",
			Help: "Transport send failures",
		},
		[]string{"channel"},
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_resolutions_total",
			Help: "Feedback resolutions by action type",
		},
		[]string{"action_type"},
	)

	Expired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proactive_insights_expired_total",
			Help: "Insights expired before resolution",
		},
	)

	Promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proactive_insights_pattern_promotions_total",
			Help: "Feedback correlations promoted into durable facts",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proactive_insights_queue_depth",
			Help: "Active insights held in memory",
		},
	)

	BestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proactive_insights_best_effort_failures_total",
			Help: "Swallowed persistence and learning failures by operation",
		},
		[]string{"op"},
	)
)
