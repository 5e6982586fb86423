package feedback

import (
	"strings"

	"ProactiveInsights/internal/domain"
)

// LowValuePolicy decides what happens to new candidates from a pair flagged low value.
type LowValuePolicy string

const (
	// PolicyReport only surfaces the flag in logs and metrics.
	PolicyReport LowValuePolicy = "report"
	// PolicySuppress drops new candidates from the pair.
	PolicySuppress LowValuePolicy = "suppress"
	// PolicyDemote halves the urgency score of new candidates from the pair.
	PolicyDemote LowValuePolicy = "demote"
)

// ParseLowValuePolicy falls back to PolicyReport for unknown values.
func ParseLowValuePolicy(value string) LowValuePolicy {
	switch LowValuePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicySuppress:
		return PolicySuppress
	case PolicyDemote:
		return PolicyDemote
	default:
		return PolicyReport
	}
}

// Apply returns the adjusted score and whether the candidate should be kept.
func (p LowValuePolicy) Apply(rate domain.ActionRate, score float64) (float64, bool) {
	if !rate.LowValue {
		return score, true
	}
	switch p {
	case PolicySuppress:
		return score, false
	case PolicyDemote:
		return score / 2, true
	default:
		return score, true
	}
}
