package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ProactiveInsights/internal/delivery"
	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/feedback"
	"ProactiveInsights/internal/focus"
	"ProactiveInsights/internal/metrics"
	"ProactiveInsights/internal/ports"
	"ProactiveInsights/internal/scoring"
)

var (
	ErrDuplicateSource = errors.New("source already registered")
	ErrUnknownSource   = errors.New("unknown source")
)

const defaultRecoverLimit = 50

// EngineConfig holds the knobs the engine applies to every reading.
type EngineConfig struct {
	Thresholds       scoring.Thresholds
	Staleness        map[string]time.Duration
	SessionID        string
	GeneratorOptions map[string]string
	LowValuePolicy   feedback.LowValuePolicy
	RecoverLimit     int
}

// EngineDeps wires collaborators. Repository and Router are required.
type EngineDeps struct {
	Repository ports.InsightRepository
	Generator  ports.Generator
	Router     *delivery.Router
	Focus      *focus.Tracker
	Feedback   *feedback.Tracker
	Events     ports.EventPublisher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Engine owns the per-source polling loops, the reading cache and the
// active insight queue.
type Engine struct {
	cfg       EngineConfig
	repo      ports.InsightRepository
	generator ports.Generator
	router    *delivery.Router
	focus     *focus.Tracker
	feedback  *feedback.Tracker
	events    ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	adapters map[string]ports.SourceAdapter
	order    []string
	readings map[string]domain.SourceReading
	queue    map[string]domain.Insight
	lastPoll time.Time
	running  bool
	baseCtx  context.Context
	cancels  map[string]context.CancelFunc
}

// NewEngine constructs the orchestrator.
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	if cfg.RecoverLimit <= 0 {
		cfg.RecoverLimit = defaultRecoverLimit
	}
	if cfg.LowValuePolicy == "" {
		cfg.LowValuePolicy = feedback.PolicyReport
	}
	e := &Engine{
		cfg:       cfg,
		repo:      deps.Repository,
		generator: deps.Generator,
		router:    deps.Router,
		focus:     deps.Focus,
		feedback:  deps.Feedback,
		events:    deps.Events,
		logger:    deps.Logger,
		now:       deps.Now,
		adapters:  map[string]ports.SourceAdapter{},
		readings:  map[string]domain.SourceReading{},
		queue:     map[string]domain.Insight{},
		cancels:   map[string]context.CancelFunc{},
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.focus == nil {
		e.focus = focus.NewTracker()
	}
	if e.feedback != nil {
		e.feedback.SetResolver(e)
	}
	return e
}

// RegisterAdapter adds a source. When the engine is already running and the
// adapter has a positive interval, its loop starts immediately.
func (e *Engine) RegisterAdapter(adapter ports.SourceAdapter) error {
	if adapter == nil {
		return fmt.Errorf("register adapter: nil adapter")
	}
	id := adapter.SourceID()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.adapters[id]; exists {
		return fmt.Errorf("register adapter %s: %w", id, ErrDuplicateSource)
	}
	e.adapters[id] = adapter
	e.order = append(e.order, id)
	if e.running {
		e.startLoopLocked(adapter)
	}
	e.logger.Info("source registered", "source", id, "interval", adapter.PollInterval())
	return nil
}

// Start recovers persisted state and launches one loop per scheduled source.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.baseCtx = ctx
	e.mu.Unlock()

	e.recover(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	for _, id := range e.order {
		e.startLoopLocked(e.adapters[id])
	}
	e.logger.Info("engine started", "sources", len(e.adapters), "queued", len(e.queue))
	return nil
}

// Stop cancels every pending reschedule. In-flight polls finish but their
// results are discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
	e.logger.Info("engine stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) recover(ctx context.Context) {
	queued, err := e.repo.GetQueuedInsights(ctx)
	e.report("get_queued_insights", err)
	delivered, err := e.repo.GetRecentDelivered(ctx, e.cfg.RecoverLimit)
	e.report("get_recent_delivered", err)

	now := e.now()
	e.mu.Lock()
	for _, insight := range queued {
		if !insight.Expired(now) {
			e.queue[insight.ID] = insight
		}
	}
	var live []domain.Insight
	for _, insight := range delivered {
		if !insight.Expired(now) {
			e.queue[insight.ID] = insight
			live = append(live, insight)
		}
	}
	metrics.QueueDepth.Set(float64(len(e.queue)))
	e.mu.Unlock()

	if e.feedback != nil {
		for _, insight := range live {
			e.feedback.OnInsightDelivered(insight)
		}
	}
}

func (e *Engine) startLoopLocked(adapter ports.SourceAdapter) {
	if adapter == nil || adapter.PollInterval() <= 0 {
		return
	}
	id := adapter.SourceID()
	if _, ok := e.cancels[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.cancels[id] = cancel
	go e.loop(ctx, adapter)
}

func (e *Engine) loop(ctx context.Context, adapter ports.SourceAdapter) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		e.process(ctx, e.poll(ctx, adapter), true)
		timer.Reset(adapter.PollInterval())
	}
}

// PollSource triggers one poll of a registered source on demand.
func (e *Engine) PollSource(ctx context.Context, sourceID string) (domain.SourceReading, error) {
	e.mu.Lock()
	adapter, ok := e.adapters[sourceID]
	e.mu.Unlock()
	if !ok {
		return domain.SourceReading{}, fmt.Errorf("poll %s: %w", sourceID, ErrUnknownSource)
	}
	reading := e.poll(ctx, adapter)
	e.process(ctx, reading, false)
	return reading, nil
}

func (e *Engine) poll(ctx context.Context, adapter ports.SourceAdapter) domain.SourceReading {
	id := adapter.SourceID()
	started := time.Now()
	reading, err := adapter.Poll(ctx)
	metrics.PollDuration.WithLabelValues(id).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.Polls.WithLabelValues(id, "error").Inc()
		e.logger.Warn("poll failed", "source", id, "error", err)
		return domain.Unavailable(id, e.now(), err)
	}
	if reading.SourceID == "" {
		reading.SourceID = id
	}
	if reading.CapturedAt.IsZero() {
		reading.CapturedAt = e.now()
	}
	if freshness, ok := e.cfg.Staleness[id]; ok && freshness > 0 {
		reading.FreshnessMs = freshness.Milliseconds()
	}
	outcome := "ok"
	if !reading.Available {
		outcome = "unavailable"
	}
	metrics.Polls.WithLabelValues(id, outcome).Inc()
	return reading
}

// process caches a reading, turns it into delivered insights and sweeps expiry.
// Loop results are dropped once the engine has stopped.
func (e *Engine) process(ctx context.Context, reading domain.SourceReading, fromLoop bool) {
	now := e.now()

	e.mu.Lock()
	if fromLoop && !e.running {
		e.mu.Unlock()
		return
	}
	e.readings[reading.SourceID] = reading
	e.lastPoll = now
	readings := make(map[string]domain.SourceReading, len(e.readings))
	for id, r := range e.readings {
		readings[id] = r
	}
	existing := e.snapshotLocked(nil)
	e.mu.Unlock()

	if reading.Available {
		for _, candidate := range e.generate(ctx, reading, existing, now) {
			scored, ok := e.score(ctx, candidate, readings, now)
			if !ok {
				continue
			}
			if !e.enqueue(ctx, scored, fromLoop) {
				return
			}
			e.deliver(ctx, scored)
		}
	}

	e.sweepExpired(ctx, now)
}

func (e *Engine) generate(ctx context.Context, reading domain.SourceReading, existing []domain.Insight, now time.Time) []domain.Insight {
	if e.generator == nil {
		return nil
	}
	candidates, err := e.generator.Generate(ctx, reading, ports.GeneratorConfig{
		SessionID: e.cfg.SessionID,
		Now:       now,
		Options:   e.cfg.GeneratorOptions,
	}, existing)
	if err != nil {
		e.logger.Warn("generation failed", "source", reading.SourceID, "error", err)
		return nil
	}
	for i := range candidates {
		c := &candidates[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.SourceID == "" {
			c.SourceID = reading.SourceID
		}
		if c.GeneratedAt.IsZero() {
			c.GeneratedAt = now
		}
		if c.SessionID == "" {
			c.SessionID = e.cfg.SessionID
		}
		if c.Type == "" {
			c.Type = domain.TypeInformational
		}
		c.SchemaVersion = domain.SchemaVersion
		c.State = domain.StateGenerated
	}
	return candidates
}

func (e *Engine) score(ctx context.Context, insight domain.Insight, readings map[string]domain.SourceReading, now time.Time) (domain.Insight, bool) {
	rate, err := e.repo.GetActionRate(ctx, insight.SourceID, insight.Type)
	if err != nil {
		e.report("get_action_rate", err)
		rate = domain.NewActionRate(insight.SourceID, insight.Type, now)
	}

	focusActive := e.focus.IsFocusModeActive()
	result := scoring.ScoreInsight(insight, scoring.Inputs{
		TimeSensitivity:         scoring.ComputeTimeSensitivity(insight.ExpiresAt, now),
		Impact:                  insight.Impact,
		HistoricalActionRate:    rate.Rate,
		CrossSourceConfirmation: scoring.ComputeCrossSourceConfirmation(insight.SourceID, readings, now),
	}, e.cfg.Thresholds, focusActive)

	adjusted, keep := e.cfg.LowValuePolicy.Apply(rate, result.Score)
	if !keep {
		metrics.InsightsSuppressed.WithLabelValues(insight.SourceID).Inc()
		e.logger.Debug("candidate suppressed", "source", insight.SourceID, "type", insight.Type)
		return domain.Insight{}, false
	}
	if adjusted != result.Score {
		result.Score = adjusted
		result.Tier = scoring.AssignTier(adjusted, e.cfg.Thresholds)
		result.Channel = scoring.AssignChannel(result.Tier, focusActive)
	}

	insight.UrgencyScore = result.Score
	insight.Urgency = result.Tier
	insight.DeliveryChannel = result.Channel
	insight.State = domain.StateScored
	return insight, true
}

func (e *Engine) enqueue(ctx context.Context, insight domain.Insight, fromLoop bool) bool {
	insight.State = domain.StateQueued

	e.mu.Lock()
	if fromLoop && !e.running {
		e.mu.Unlock()
		return false
	}
	e.queue[insight.ID] = insight
	metrics.QueueDepth.Set(float64(len(e.queue)))
	e.mu.Unlock()

	metrics.InsightsGenerated.WithLabelValues(insight.SourceID, string(insight.Urgency)).Inc()
	e.report("save_insight", e.repo.SaveInsight(ctx, insight))
	return true
}

func (e *Engine) deliver(ctx context.Context, insight domain.Insight) {
	if e.router == nil {
		return
	}
	insight.State = domain.StateQueued
	d := e.router.Route(ctx, insight)
	delivered := d.Insight

	e.mu.Lock()
	_, active := e.queue[delivered.ID]
	if active {
		e.queue[delivered.ID] = delivered
	}
	e.mu.Unlock()
	if !active {
		return
	}

	e.report("update_insight_state", e.repo.UpdateInsightState(ctx, delivered.ID, domain.StateDelivered, ports.StateUpdate{
		Channel:     delivered.DeliveryChannel,
		DeliveredAt: delivered.DeliveredAt,
	}))
	if e.feedback != nil {
		e.feedback.OnInsightDelivered(delivered)
	}
	if e.events != nil {
		e.report("publish_delivery", e.events.Publish(ctx, delivered.ID, map[string]any{
			"event":      "insight.delivered",
			"insight":    delivered,
			"channel":    d.Channel,
			"downgraded": d.Downgraded,
		}))
	}
	if e.router.BatchFull() {
		e.router.Drain(ctx)
	}
}

func (e *Engine) sweepExpired(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var expired []string
	for id, insight := range e.queue {
		if insight.Expired(now) {
			expired = append(expired, id)
			delete(e.queue, id)
		}
	}
	metrics.QueueDepth.Set(float64(len(e.queue)))
	e.mu.Unlock()

	for _, id := range expired {
		if e.feedback != nil && !e.feedback.Expire(id) {
			continue
		}
		err := e.repo.UpdateInsightState(ctx, id, domain.StateExpired, ports.StateUpdate{})
		if errors.Is(err, domain.ErrTerminalState) {
			continue
		}
		e.report("update_insight_state", err)
	}
	metrics.Expired.Add(float64(len(expired)))

	n, err := e.repo.ExpireStaleInsights(ctx, now)
	e.report("expire_stale_insights", err)
	if len(expired) > 0 || n > 0 {
		e.logger.Debug("expired insights", "in_memory", len(expired), "persisted", n)
	}
}

// MarkResolved drops an acted-on or ignored insight from the active queue.
func (e *Engine) MarkResolved(id string, state domain.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queue[id]; !ok {
		return
	}
	delete(e.queue, id)
	metrics.QueueDepth.Set(float64(len(e.queue)))
	e.logger.Debug("insight left queue", "insight", id, "state", state)
}

// DrainBatch sends the pending low-attention digest.
func (e *Engine) DrainBatch(ctx context.Context) int {
	if e.router == nil {
		return 0
	}
	return e.router.Drain(ctx)
}

func (e *Engine) report(op string, err error) {
	if err == nil {
		return
	}
	metrics.BestEffortFailures.WithLabelValues(op).Inc()
	e.logger.Warn("best-effort call failed", "op", op, "error", err)
}
