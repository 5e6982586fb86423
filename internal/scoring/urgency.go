// Package scoring computes urgency scores, tiers and delivery channels.
// Every function is pure and total: malformed inputs are clamped, never rejected.
package scoring

import (
	"math"
	"time"

	"ProactiveInsights/internal/domain"
)

const (
	WeightTimeSensitivity = 0.40
	WeightImpact          = 0.30
	WeightActionRate      = 0.20
	WeightCrossSource     = 0.10

	// MediumThreshold is fixed; high and critical are operator tunable.
	MediumThreshold = 0.30

	DefaultHighThreshold     = 0.60
	DefaultCriticalThreshold = 0.80

	imminentHorizon = 15 * time.Minute
	distantHorizon  = 24 * time.Hour
)

// Thresholds holds the tunable tier boundaries.
type Thresholds struct {
	High     float64
	Critical float64
}

// DefaultThresholds returns the stock tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHighThreshold, Critical: DefaultCriticalThreshold}
}

// Normalize keeps the boundaries ordered so tier assignment stays monotonic in score.
func (t Thresholds) Normalize() Thresholds {
	high := t.High
	if math.IsNaN(high) || high <= 0 {
		high = DefaultHighThreshold
	}
	critical := t.Critical
	if math.IsNaN(critical) || critical <= 0 {
		critical = DefaultCriticalThreshold
	}
	high = clamp(math.Max(high, MediumThreshold))
	critical = clamp(math.Max(critical, high))
	return Thresholds{High: high, Critical: critical}
}

// Inputs are the per-insight signals combined by ScoreInsight.
type Inputs struct {
	TimeSensitivity         float64
	Impact                  float64
	HistoricalActionRate    float64
	CrossSourceConfirmation float64
}

// Result is the scorer's verdict for one insight.
type Result struct {
	Score   float64
	Tier    domain.Urgency
	Channel domain.Channel
}

// ComputeTimeSensitivity maps an optional expiry to [0,1].
func ComputeTimeSensitivity(expiresAt *time.Time, now time.Time) float64 {
	if expiresAt == nil {
		return 0
	}
	remaining := expiresAt.Sub(now)
	if remaining <= imminentHorizon {
		return 1
	}
	if remaining >= distantHorizon {
		return 0
	}
	span := float64(distantHorizon - imminentHorizon)
	return clamp(1 - float64(remaining-imminentHorizon)/span)
}

// ComputeCrossSourceConfirmation returns the fraction of other sources whose
// latest reading is available and still fresh.
func ComputeCrossSourceConfirmation(sourceID string, readings map[string]domain.SourceReading, now time.Time) float64 {
	var others, confirming int
	for id, reading := range readings {
		if id == sourceID {
			continue
		}
		others++
		if reading.IsFresh(now) {
			confirming++
		}
	}
	if others == 0 {
		return 0
	}
	return float64(confirming) / float64(others)
}

// ScoreInsight combines the weighted inputs and assigns tier and channel.
func ScoreInsight(_ domain.Insight, in Inputs, thresholds Thresholds, focusActive bool) Result {
	score := WeightTimeSensitivity*clamp(in.TimeSensitivity) +
		WeightImpact*clamp(in.Impact) +
		WeightActionRate*clamp(in.HistoricalActionRate) +
		WeightCrossSource*clamp(in.CrossSourceConfirmation)
	// Round off float noise so a sum landing on a boundary gets that tier.
	score = clamp(math.Round(score*1e9) / 1e9)

	tier := AssignTier(score, thresholds)
	return Result{
		Score:   score,
		Tier:    tier,
		Channel: AssignChannel(tier, focusActive),
	}
}

// AssignTier buckets a score by descending threshold.
func AssignTier(score float64, thresholds Thresholds) domain.Urgency {
	t := thresholds.Normalize()
	score = clamp(score)
	switch {
	case score >= t.Critical:
		return domain.UrgencyCritical
	case score >= t.High:
		return domain.UrgencyHigh
	case score >= MediumThreshold:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

// AssignChannel picks the delivery channel. During focus, anything below
// critical is deferred one attention level.
func AssignChannel(tier domain.Urgency, focusActive bool) domain.Channel {
	switch tier {
	case domain.UrgencyCritical:
		return domain.ChannelPush
	case domain.UrgencyHigh:
		if focusActive {
			return domain.ChannelMessage
		}
		return domain.ChannelInContext
	case domain.UrgencyMedium:
		if focusActive {
			return domain.ChannelBatch
		}
		return domain.ChannelInContext
	default:
		return domain.ChannelBatch
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
