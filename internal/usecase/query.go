package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"ProactiveInsights/internal/domain"
)

const relevantLimit = 3

// Filter narrows QueryInsights. Zero values match everything.
type Filter struct {
	SourceID   string
	Type       domain.InsightType
	MinUrgency domain.Urgency
	States     []domain.State
	Limit      int
}

// QueryResult is the on-demand inspection view.
type QueryResult struct {
	Insights      []domain.Insight `json:"insights"`
	SourcesPolled []string         `json:"sources_polled"`
	SourcesStale  []string         `json:"sources_stale"`
	LastPoll      *time.Time       `json:"last_poll,omitempty"`
}

func (e *Engine) snapshotLocked(keep func(domain.Insight) bool) []domain.Insight {
	out := make([]domain.Insight, 0, len(e.queue))
	for _, insight := range e.queue {
		if keep == nil || keep(insight) {
			out = append(out, insight)
		}
	}
	sortByScore(out)
	return out
}

func sortByScore(insights []domain.Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].UrgencyScore != insights[j].UrgencyScore {
			return insights[i].UrgencyScore > insights[j].UrgencyScore
		}
		return insights[i].GeneratedAt.After(insights[j].GeneratedAt)
	})
}

// GetRelevantInsights returns up to three active insights whose title or body
// mention any keyword, highest score first. No keywords matches nothing.
func (e *Engine) GetRelevantInsights(keywords []string) []domain.Insight {
	var needles []string
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			needles = append(needles, kw)
		}
	}
	if len(needles) == 0 {
		return []domain.Insight{}
	}

	e.mu.Lock()
	matches := e.snapshotLocked(func(insight domain.Insight) bool {
		if !insight.State.IsActive() {
			return false
		}
		text := strings.ToLower(insight.Title + " " + insight.Body)
		for _, n := range needles {
			if strings.Contains(text, n) {
				return true
			}
		}
		return false
	})
	e.mu.Unlock()

	if len(matches) > relevantLimit {
		matches = matches[:relevantLimit]
	}
	return matches
}

// QueryInsights filters the active queue and reports source freshness.
func (e *Engine) QueryInsights(f Filter) QueryResult {
	now := e.now()
	states := map[domain.State]bool{}
	for _, s := range f.States {
		states[s] = true
	}

	e.mu.Lock()
	insights := e.snapshotLocked(func(insight domain.Insight) bool {
		if f.SourceID != "" && insight.SourceID != f.SourceID {
			return false
		}
		if f.Type != "" && insight.Type != f.Type {
			return false
		}
		if f.MinUrgency != "" && insight.Urgency.Rank() < f.MinUrgency.Rank() {
			return false
		}
		if len(states) > 0 && !states[insight.State] {
			return false
		}
		return true
	})
	result := QueryResult{Insights: insights, SourcesPolled: []string{}, SourcesStale: []string{}}
	for id, reading := range e.readings {
		result.SourcesPolled = append(result.SourcesPolled, id)
		if !reading.IsFresh(now) {
			result.SourcesStale = append(result.SourcesStale, id)
		}
	}
	if !e.lastPoll.IsZero() {
		last := e.lastPoll
		result.LastPoll = &last
	}
	e.mu.Unlock()

	sort.Strings(result.SourcesPolled)
	sort.Strings(result.SourcesStale)
	if f.Limit > 0 && len(result.Insights) > f.Limit {
		result.Insights = result.Insights[:f.Limit]
	}
	return result
}

// GetDeliveredInsights returns every delivered insight still awaiting resolution.
func (e *Engine) GetDeliveredInsights() []domain.Insight {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(func(insight domain.Insight) bool {
		return insight.State == domain.StateDelivered
	})
}

// Reading returns the cached last reading of a source.
func (e *Engine) Reading(sourceID string) (domain.SourceReading, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.readings[sourceID]
	return r, ok
}

// HandleToolCall records activity for focus detection and checks for implicit action.
func (e *Engine) HandleToolCall(ctx context.Context, toolName string, toolArgs any, sessionID string) []domain.InsightFeedback {
	e.focus.Tick()
	if e.feedback == nil {
		return nil
	}
	return e.feedback.CheckImplicitAction(ctx, toolName, toolArgs, e.GetDeliveredInsights(), e.sessionOr(sessionID))
}

// HandleMessage checks a conversational message for an acknowledgement.
func (e *Engine) HandleMessage(ctx context.Context, text, sessionID string) []domain.InsightFeedback {
	if e.feedback == nil {
		return nil
	}
	return e.feedback.CheckExplicitAction(ctx, text, e.GetDeliveredInsights(), e.sessionOr(sessionID))
}

// SweepFeedback resolves delivered insights whose action window elapsed.
func (e *Engine) SweepFeedback(ctx context.Context) []domain.InsightFeedback {
	if e.feedback == nil {
		return nil
	}
	return e.feedback.Sweep(ctx, e.GetDeliveredInsights())
}

func (e *Engine) sessionOr(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return e.cfg.SessionID
}
