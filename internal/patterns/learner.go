// Package patterns promotes consistently acted-on (source, type) pairs into
// durable causal facts.
package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/metrics"
	"ProactiveInsights/internal/ports"
)

const (
	DefaultMinObservations = 3
	DefaultMinActionRate   = 0.30
	DefaultHistoryWindow   = 30 * 24 * time.Hour

	atomSource = "pattern-learner"
)

// Config holds promotion thresholds.
type Config struct {
	MinObservations int
	MinActionRate   float64
	HistoryWindow   time.Duration
}

// Learner decides when a pair earns an atom.
type Learner struct {
	cfg       Config
	history   ports.InsightRepository
	knowledge ports.KnowledgeStore
	logger    *slog.Logger

	mu       sync.Mutex
	promoted map[string]struct{}
}

// NewLearner builds a learner; a nil knowledge store disables promotion.
func NewLearner(cfg Config, history ports.InsightRepository, knowledge ports.KnowledgeStore, logger *slog.Logger) *Learner {
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = DefaultMinObservations
	}
	if cfg.MinActionRate <= 0 {
		cfg.MinActionRate = DefaultMinActionRate
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		cfg:       cfg,
		history:   history,
		knowledge: knowledge,
		logger:    logger,
		promoted:  map[string]struct{}{},
	}
}

// Subject is the atom subject used to look up an existing fact for a pair.
func Subject(sourceID string, insightType domain.InsightType) string {
	return fmt.Sprintf("%s %s insights", sourceID, insightType)
}

// Observe runs after an acted-on resolution. Failures are logged, never returned.
func (l *Learner) Observe(ctx context.Context, fb domain.InsightFeedback, rate domain.ActionRate) {
	if !fb.ActedOn || l.knowledge == nil {
		return
	}
	if _, err := l.promote(ctx, fb.SourceID, fb.InsightType, rate.Rate); err != nil {
		metrics.BestEffortFailures.WithLabelValues("promote_pattern").Inc()
		l.logger.Warn("pattern promotion failed",
			"source", fb.SourceID,
			"type", fb.InsightType,
			"error", err)
	}
}

// promote returns the new atom id, or "" when nothing was created.
func (l *Learner) promote(ctx context.Context, sourceID string, insightType domain.InsightType, rate float64) (string, error) {
	if rate < l.cfg.MinActionRate {
		return "", nil
	}

	key := domain.PairKey(sourceID, insightType)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.promoted[key]; done {
		return "", nil
	}

	acted, err := l.history.GetFeedbackHistory(ctx, sourceID, insightType, true, l.cfg.HistoryWindow)
	if err != nil {
		return "", fmt.Errorf("feedback history: %w", err)
	}
	if len(acted) < l.cfg.MinObservations {
		return "", nil
	}

	subject := Subject(sourceID, insightType)
	existing, err := l.knowledge.SearchAtoms(ctx, "subject", subject)
	if err != nil {
		return "", fmt.Errorf("search atoms: %w", err)
	}
	for _, atom := range existing {
		if atom.Subject == subject {
			l.promoted[key] = struct{}{}
			return "", nil
		}
	}

	id, err := l.knowledge.CreateAtom(ctx, domain.Atom{
		Subject: subject,
		Action:  "delivered proactively",
		Outcome: "acted on by the user",
		Consequences: fmt.Sprintf("%d acted-on observations in the last %d days, action rate %.2f",
			len(acted), int(l.cfg.HistoryWindow.Hours()/24), rate),
		Confidence: rate,
		Source:     atomSource,
	})
	if err != nil {
		return "", fmt.Errorf("create atom: %w", err)
	}
	l.promoted[key] = struct{}{}

	metrics.Promotions.Inc()
	l.logger.Info("pattern promoted",
		"source", sourceID,
		"type", insightType,
		"atom", id,
		"confidence", rate)
	return id, nil
}
