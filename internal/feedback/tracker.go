// Package feedback classifies delivered insights as acted on, ignored or
// timed out and maintains the per-(source, type) action rate.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/metrics"
	"ProactiveInsights/internal/ports"
)

const (
	DefaultActionWindow          = 10 * time.Minute
	DefaultRateIncreasePerAct    = 0.10
	DefaultRateDecreasePerIgnore = 0.05
	DefaultMinObservations       = 20
	DefaultLowValueThreshold     = 0.10

	resolvedRetention = 24 * time.Hour
)

// Config tunes the learning loop.
type Config struct {
	ActionWindow          time.Duration
	RateIncreasePerAct    float64
	RateDecreasePerIgnore float64
	MinObservations       int
	LowValueThreshold     float64
}

// DefaultConfig returns the stock learning parameters.
func DefaultConfig() Config {
	return Config{
		ActionWindow:          DefaultActionWindow,
		RateIncreasePerAct:    DefaultRateIncreasePerAct,
		RateDecreasePerIgnore: DefaultRateDecreasePerIgnore,
		MinObservations:       DefaultMinObservations,
		LowValueThreshold:     DefaultLowValueThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ActionWindow <= 0 {
		c.ActionWindow = d.ActionWindow
	}
	if c.RateIncreasePerAct <= 0 {
		c.RateIncreasePerAct = d.RateIncreasePerAct
	}
	if c.RateDecreasePerIgnore <= 0 {
		c.RateDecreasePerIgnore = d.RateDecreasePerIgnore
	}
	if c.MinObservations <= 0 {
		c.MinObservations = d.MinObservations
	}
	if c.LowValueThreshold <= 0 {
		c.LowValueThreshold = d.LowValueThreshold
	}
	return c
}

// Resolver removes resolved insights from the active queue.
type Resolver interface {
	MarkResolved(id string, state domain.State)
}

// Learner is told about every acted-on resolution.
type Learner interface {
	Observe(ctx context.Context, feedback domain.InsightFeedback, rate domain.ActionRate)
}

// TrackerDeps wires collaborators; only Repository is required.
type TrackerDeps struct {
	Repository ports.InsightRepository
	Matcher    ActionMatcher
	AckPattern *regexp.Regexp
	Resolver   Resolver
	Learner    Learner
	Events     ports.EventPublisher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Tracker owns the delivery-timestamp map bounding the action window.
type Tracker struct {
	cfg      Config
	repo     ports.InsightRepository
	matcher  ActionMatcher
	ack      *regexp.Regexp
	resolver Resolver
	learner  Learner
	events   ports.EventPublisher
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	delivered map[string]time.Time
	resolved  map[string]time.Time

	rateMu sync.Mutex
}

// NewTracker constructs the feedback tracker.
func NewTracker(cfg Config, deps TrackerDeps) *Tracker {
	t := &Tracker{
		cfg:       cfg.withDefaults(),
		repo:      deps.Repository,
		matcher:   deps.Matcher,
		ack:       deps.AckPattern,
		resolver:  deps.Resolver,
		learner:   deps.Learner,
		events:    deps.Events,
		logger:    deps.Logger,
		now:       deps.Now,
		delivered: map[string]time.Time{},
		resolved:  map[string]time.Time{},
	}
	if t.matcher == nil {
		t.matcher = NewKeywordMatcher(nil)
	}
	if t.ack == nil {
		t.ack = DefaultAckPattern
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// SetResolver binds the queue owner after construction.
func (t *Tracker) SetResolver(r Resolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolver = r
}

// OnInsightDelivered registers the delivery time used for window tracking.
func (t *Tracker) OnInsightDelivered(insight domain.Insight) {
	at := t.now()
	if insight.DeliveredAt != nil {
		at = *insight.DeliveredAt
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.resolved[insight.ID]; done {
		return
	}
	t.delivered[insight.ID] = at
}

// CheckImplicitAction resolves delivered insights whose source keywords appear
// in the tool arguments.
func (t *Tracker) CheckImplicitAction(ctx context.Context, toolName string, toolArgs any, delivered []domain.Insight, sessionID string) []domain.InsightFeedback {
	now := t.now()
	args := serializeArgs(toolArgs)
	var out []domain.InsightFeedback
	for _, insight := range delivered {
		if !t.inWindow(insight, now) {
			continue
		}
		if !t.matcher.Matches(insight, toolName, args) {
			continue
		}
		if fb, ok := t.resolve(ctx, insight, domain.ActionImplicit, sessionID, now); ok {
			out = append(out, fb)
		}
	}
	return out
}

// CheckExplicitAction resolves every in-window insight when the message acknowledges.
func (t *Tracker) CheckExplicitAction(ctx context.Context, text string, delivered []domain.Insight, sessionID string) []domain.InsightFeedback {
	if !t.ack.MatchString(text) {
		return nil
	}
	now := t.now()
	var out []domain.InsightFeedback
	for _, insight := range delivered {
		if !t.inWindow(insight, now) {
			continue
		}
		if fb, ok := t.resolve(ctx, insight, domain.ActionExplicit, sessionID, now); ok {
			out = append(out, fb)
		}
	}
	return out
}

// Sweep resolves as ignored every delivered insight whose window elapsed.
func (t *Tracker) Sweep(ctx context.Context, delivered []domain.Insight) []domain.InsightFeedback {
	now := t.now()
	var out []domain.InsightFeedback
	for _, insight := range delivered {
		at, ok := t.deliveredAt(insight)
		if !ok || now.Sub(at) <= t.cfg.ActionWindow {
			continue
		}
		if fb, ok := t.resolve(ctx, insight, domain.ActionIgnored, insight.SessionID, now); ok {
			out = append(out, fb)
		}
	}
	t.prune(now)
	return out
}

// Expire claims an insight the engine expired so no later action or sweep can
// resolve it. It reports false when the insight was already resolved.
func (t *Tracker) Expire(id string) bool {
	_, ok := t.claim(id, t.now())
	return ok
}

func (t *Tracker) deliveredAt(insight domain.Insight) (time.Time, bool) {
	if insight.State != domain.StateDelivered {
		return time.Time{}, false
	}
	t.mu.Lock()
	at, ok := t.delivered[insight.ID]
	t.mu.Unlock()
	if ok {
		return at, true
	}
	if insight.DeliveredAt != nil {
		return *insight.DeliveredAt, true
	}
	return time.Time{}, false
}

func (t *Tracker) inWindow(insight domain.Insight, now time.Time) bool {
	at, ok := t.deliveredAt(insight)
	return ok && now.Sub(at) <= t.cfg.ActionWindow
}

// claim marks an insight resolved; only the first caller wins.
func (t *Tracker) claim(id string, now time.Time) (Resolver, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.resolved[id]; done {
		return nil, false
	}
	t.resolved[id] = now
	delete(t.delivered, id)
	return t.resolver, true
}

func (t *Tracker) resolve(ctx context.Context, insight domain.Insight, action domain.ActionType, sessionID string, now time.Time) (domain.InsightFeedback, bool) {
	actedOn := action != domain.ActionIgnored
	state := domain.StateIgnored
	if actedOn {
		state = domain.StateActedOn
	}
	if !domain.CanTransition(insight.State, state) {
		return domain.InsightFeedback{}, false
	}

	resolver, ok := t.claim(insight.ID, now)
	if !ok {
		return domain.InsightFeedback{}, false
	}
	// The stored state wins over the caller's copy.
	if err := t.repo.UpdateInsightState(ctx, insight.ID, state, ports.StateUpdate{}); err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			t.logger.Debug("insight already terminal", "insight", insight.ID, "action_type", action)
			return domain.InsightFeedback{}, false
		}
		t.report("update_insight_state", err)
	}

	deliveredAt, _ := t.deliveredAtFallback(insight, now)
	if sessionID == "" {
		sessionID = insight.SessionID
	}

	fb := domain.InsightFeedback{
		ID:                uuid.NewString(),
		InsightID:         insight.ID,
		InsightType:       insight.Type,
		SourceID:          insight.SourceID,
		UrgencyAtDelivery: insight.Urgency,
		DeliveredAt:       deliveredAt,
		Channel:           insight.DeliveryChannel,
		ActedOn:           actedOn,
		ActionType:        action,
		SessionID:         sessionID,
		CreatedAt:         now,
	}
	if actedOn {
		latency := now.Sub(deliveredAt).Milliseconds()
		fb.LatencyMs = &latency
	}

	t.report("save_feedback", t.repo.SaveFeedback(ctx, fb))
	if resolver != nil {
		resolver.MarkResolved(insight.ID, state)
	}

	rate := t.updateActionRate(ctx, insight.SourceID, insight.Type, actedOn, now)
	if actedOn && t.learner != nil {
		t.learner.Observe(ctx, fb, rate)
	}
	if t.events != nil {
		t.report("publish_resolution", t.events.Publish(ctx, insight.ID, map[string]any{
			"event":    "insight.resolved",
			"feedback": fb,
		}))
	}

	metrics.Resolutions.WithLabelValues(string(action)).Inc()
	t.logger.Info("insight resolved",
		"insight", insight.ID,
		"source", insight.SourceID,
		"action_type", action,
		"action_rate", rate.Rate)
	return fb, true
}

func (t *Tracker) deliveredAtFallback(insight domain.Insight, now time.Time) (time.Time, bool) {
	if insight.DeliveredAt != nil {
		return *insight.DeliveredAt, true
	}
	return now, false
}

func (t *Tracker) updateActionRate(ctx context.Context, sourceID string, insightType domain.InsightType, actedOn bool, now time.Time) domain.ActionRate {
	t.rateMu.Lock()
	defer t.rateMu.Unlock()

	current, err := t.repo.GetActionRate(ctx, sourceID, insightType)
	if err != nil {
		t.report("get_action_rate", err)
		current = domain.NewActionRate(sourceID, insightType, now)
	}
	next := NextRate(current, actedOn, t.cfg, now)
	t.report("upsert_action_rate", t.repo.UpsertActionRate(ctx, next))

	if next.LowValue && !current.LowValue {
		t.logger.Warn("pair flagged low value",
			"source", sourceID,
			"type", insightType,
			"action_rate", next.Rate,
			"observations", next.ObservationCount)
	}
	return next
}

// NextRate applies one observation to an action rate.
func NextRate(current domain.ActionRate, actedOn bool, cfg Config, now time.Time) domain.ActionRate {
	cfg = cfg.withDefaults()
	rate := current.Rate
	if math.IsNaN(rate) {
		rate = domain.DefaultActionRatePrior
	}
	if actedOn {
		rate += cfg.RateIncreasePerAct
	} else {
		rate -= cfg.RateDecreasePerIgnore
	}
	rate = math.Min(1, math.Max(0, rate))

	next := current
	next.Rate = rate
	next.ObservationCount++
	next.LowValue = next.ObservationCount >= cfg.MinObservations && rate < cfg.LowValueThreshold
	next.LastUpdated = now
	return next
}

// prune drops delivery timestamps whose window has closed and resolutions
// older than the retention period.
func (t *Tracker) prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, at := range t.delivered {
		if now.Sub(at) > t.cfg.ActionWindow {
			delete(t.delivered, id)
		}
	}
	for id, at := range t.resolved {
		if now.Sub(at) > resolvedRetention {
			delete(t.resolved, id)
		}
	}
}

// Pending returns how many delivery timestamps are being tracked.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.delivered)
}

// report is the single boundary where best-effort failures become visible.
func (t *Tracker) report(op string, err error) {
	if err == nil {
		return
	}
	metrics.BestEffortFailures.WithLabelValues(op).Inc()
	t.logger.Warn("best-effort write failed", "op", op, "error", err)
}
