package domain

import "time"

// SourceReading is the normalized output of one poll. Payload is opaque to
// the core and consumed only by candidate generators.
type SourceReading struct {
	SourceID    string         `json:"source_id"`
	CapturedAt  time.Time      `json:"captured_at"`
	Available   bool           `json:"available"`
	FreshnessMs int64          `json:"freshness_ms"`
	Error       string         `json:"error,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Age returns how long ago the reading was captured.
func (r SourceReading) Age(now time.Time) time.Duration {
	return now.Sub(r.CapturedAt)
}

// IsFresh reports whether the reading is available and younger than its own freshness.
func (r SourceReading) IsFresh(now time.Time) bool {
	if !r.Available || r.FreshnessMs <= 0 {
		return false
	}
	return r.Age(now) < time.Duration(r.FreshnessMs)*time.Millisecond
}

// Unavailable builds the reading recorded when a poll fails.
func Unavailable(sourceID string, at time.Time, err error) SourceReading {
	reading := SourceReading{SourceID: sourceID, CapturedAt: at}
	if err != nil {
		reading.Error = err.Error()
	}
	return reading
}
