package domain

import (
	"strings"
	"time"
)

// SchemaVersion is stamped on every stored insight record.
const SchemaVersion = 1

// InsightType categorizes candidate insights. The set is open: generators may
// introduce new types and the rest of the pipeline treats them opaquely.
type InsightType string

const (
	TypeAnomaly       InsightType = "anomaly"
	TypeAlert         InsightType = "alert"
	TypeOpportunity   InsightType = "opportunity"
	TypeInformational InsightType = "informational"
)

// Urgency is the discrete tier derived from the continuous urgency score.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank orders tiers so that a higher tier always compares greater.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

// ParseUrgency maps free text to a tier; unknown values become low.
func ParseUrgency(value string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(value))) {
	case UrgencyCritical:
		return UrgencyCritical
	case UrgencyHigh:
		return UrgencyHigh
	case UrgencyMedium:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// Channel is where a delivered insight is shown.
type Channel string

const (
	// ChannelPush interrupts the user immediately (push notification).
	ChannelPush Channel = "push"
	// ChannelMessage posts to the team messaging channel.
	ChannelMessage Channel = "message"
	// ChannelInContext surfaces the insight inside the running session.
	ChannelInContext Channel = "in_context"
	// ChannelBatch defers the insight into a periodic digest.
	ChannelBatch Channel = "batch"
)

// Insight is the unit of work flowing through the engine.
type Insight struct {
	ID              string      `json:"id"`
	Type            InsightType `json:"type"`
	SourceID        string      `json:"source_id"`
	Title           string      `json:"title"`
	Body            string      `json:"body"`
	Urgency         Urgency     `json:"urgency"`
	UrgencyScore    float64     `json:"urgency_score"`
	Confidence      float64     `json:"confidence"`
	Actionable      bool        `json:"actionable"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	GeneratedAt     time.Time   `json:"generated_at"`
	State           State       `json:"state"`
	DeliveryChannel Channel     `json:"delivery_channel,omitempty"`
	DeliveredAt     *time.Time  `json:"delivered_at,omitempty"`
	SessionID       string      `json:"session_id"`
	SchemaVersion   int         `json:"schema_version"`

	// Impact is the generator's financial/impact estimate in [0,1]. It only
	// feeds scoring and is not persisted.
	Impact float64 `json:"-"`
}

// Expired reports whether the insight has an expiry at or before now.
func (i Insight) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// PairKey builds the "<source>::<type>" identifier shared with storage.
func PairKey(sourceID string, insightType InsightType) string {
	return sourceID + "::" + string(insightType)
}
