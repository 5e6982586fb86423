package domain

import "time"

// ActionType records how an insight resolution was detected.
type ActionType string

const (
	ActionImplicit ActionType = "implicit"
	ActionExplicit ActionType = "explicit"
	ActionIgnored  ActionType = "ignored"
)

// InsightFeedback is written exactly once per resolved insight.
type InsightFeedback struct {
	ID                string      `json:"id"`
	InsightID         string      `json:"insight_id"`
	InsightType       InsightType `json:"insight_type"`
	SourceID          string      `json:"source_id"`
	UrgencyAtDelivery Urgency     `json:"urgency_at_delivery"`
	DeliveredAt       time.Time   `json:"delivered_at"`
	Channel           Channel     `json:"channel"`
	ActedOn           bool        `json:"acted_on"`
	ActionType        ActionType  `json:"action_type"`
	LatencyMs         *int64      `json:"latency_ms,omitempty"`
	SessionID         string      `json:"session_id"`
	CreatedAt         time.Time   `json:"created_at"`
}

// DefaultActionRatePrior is assumed for a pair that has never been observed.
const DefaultActionRatePrior = 0.5

// ActionRate aggregates how often a (source, type) pair is acted on.
type ActionRate struct {
	SourceID         string      `json:"source_id"`
	InsightType      InsightType `json:"insight_type"`
	Rate             float64     `json:"action_rate"`
	ObservationCount int         `json:"observation_count"`
	LowValue         bool        `json:"low_value"`
	LastUpdated      time.Time   `json:"last_updated"`
}

// NewActionRate returns the prior for an unseen pair.
func NewActionRate(sourceID string, insightType InsightType, now time.Time) ActionRate {
	return ActionRate{
		SourceID:    sourceID,
		InsightType: insightType,
		Rate:        DefaultActionRatePrior,
		LastUpdated: now,
	}
}

// Key returns the storage identifier of the pair.
func (r ActionRate) Key() string {
	return PairKey(r.SourceID, r.InsightType)
}

// Atom is a durable causal fact promoted from consistent feedback.
type Atom struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Action       string    `json:"action"`
	Outcome      string    `json:"outcome"`
	Consequences string    `json:"consequences"`
	Confidence   float64   `json:"confidence"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}
