package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProactiveInsights/internal/delivery"
	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/feedback"
	"ProactiveInsights/internal/infrastructure/storage"
	"ProactiveInsights/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubAdapter struct {
	id       string
	interval time.Duration
	err      error
	polls    atomic.Int32
	payload  map[string]any
}

func (a *stubAdapter) SourceID() string            { return a.id }
func (a *stubAdapter) PollInterval() time.Duration { return a.interval }

func (a *stubAdapter) Poll(context.Context) (domain.SourceReading, error) {
	a.polls.Add(1)
	if a.err != nil {
		return domain.SourceReading{}, a.err
	}
	return domain.SourceReading{SourceID: a.id, Available: true, FreshnessMs: 60000, Payload: a.payload}, nil
}

type generatorFunc func(reading domain.SourceReading, cfg ports.GeneratorConfig) []domain.Insight

func (f generatorFunc) Generate(_ context.Context, reading domain.SourceReading, cfg ports.GeneratorConfig, _ []domain.Insight) ([]domain.Insight, error) {
	return f(reading, cfg), nil
}

type countingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *countingSender) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

type harness struct {
	engine  *Engine
	repo    *storage.MemoryRepository
	clock   *fakeClock
	push    *countingSender
	tracker *feedback.Tracker
}

func newHarness(t *testing.T, gen ports.Generator, policy feedback.LowValuePolicy) harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	repo := storage.NewMemoryRepository().WithClock(clock.Now)
	push := &countingSender{}
	router := delivery.NewRouter(delivery.Config{}, map[domain.Channel]ports.Sender{
		domain.ChannelPush: push,
	}, nil).WithClock(clock.Now)
	tracker := feedback.NewTracker(feedback.DefaultConfig(), feedback.TrackerDeps{
		Repository: repo,
		Matcher:    feedback.NewKeywordMatcher(map[string][]string{"trading": {"btc"}}),
		Now:        clock.Now,
	})
	engine := NewEngine(EngineConfig{SessionID: "sess", LowValuePolicy: policy}, EngineDeps{
		Repository: repo,
		Generator:  gen,
		Router:     router,
		Feedback:   tracker,
		Now:        clock.Now,
	})
	return harness{engine: engine, repo: repo, clock: clock, push: push, tracker: tracker}
}

func urgentGenerator(clock *fakeClock) generatorFunc {
	return func(reading domain.SourceReading, _ ports.GeneratorConfig) []domain.Insight {
		expires := clock.Now().Add(5 * time.Minute)
		return []domain.Insight{{
			Type:      domain.TypeAnomaly,
			Title:     "BTC spread widening",
			Body:      "spread above band",
			Impact:    1,
			ExpiresAt: &expires,
		}}
	}
}

func TestPollSourceScoresQueuesAndDelivers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "")
	h.engine.generator = urgentGenerator(h.clock)

	require.NoError(t, h.engine.RegisterAdapter(&stubAdapter{id: "trading"}))
	reading, err := h.engine.PollSource(context.Background(), "trading")
	require.NoError(t, err)
	assert.True(t, reading.Available)

	delivered := h.engine.GetDeliveredInsights()
	require.Len(t, delivered, 1)
	insight := delivered[0]
	assert.Equal(t, "trading", insight.SourceID)
	assert.Equal(t, "sess", insight.SessionID)
	assert.Equal(t, domain.UrgencyCritical, insight.Urgency)
	assert.InDelta(t, 0.8, insight.UrgencyScore, 1e-9)
	assert.Equal(t, domain.ChannelPush, insight.DeliveryChannel)
	require.NotNil(t, insight.DeliveredAt)
	assert.Len(t, h.push.texts, 1)

	stored, ok := h.repo.Insight(insight.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateDelivered, stored.State)
	assert.Equal(t, domain.SchemaVersion, stored.SchemaVersion)
}

func TestPollFailureRecordsUnavailableReading(t *testing.T) {
	t.Parallel()

	var generated atomic.Int32
	gen := generatorFunc(func(domain.SourceReading, ports.GeneratorConfig) []domain.Insight {
		generated.Add(1)
		return nil
	})
	h := newHarness(t, gen, "")
	require.NoError(t, h.engine.RegisterAdapter(&stubAdapter{id: "fleet", err: errors.New("timeout")}))

	reading, err := h.engine.PollSource(context.Background(), "fleet")
	require.NoError(t, err)
	assert.False(t, reading.Available)
	assert.Equal(t, "timeout", reading.Error)
	assert.Zero(t, generated.Load())

	cached, ok := h.engine.Reading("fleet")
	require.True(t, ok)
	assert.False(t, cached.Available)

	result := h.engine.QueryInsights(Filter{})
	assert.Equal(t, []string{"fleet"}, result.SourcesPolled)
	assert.Equal(t, []string{"fleet"}, result.SourcesStale)
	assert.NotNil(t, result.LastPoll)
}

func TestExpirySweepAfterEveryReading(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "")
	h.engine.generator = urgentGenerator(h.clock)
	require.NoError(t, h.engine.RegisterAdapter(&stubAdapter{id: "trading"}))

	_, err := h.engine.PollSource(context.Background(), "trading")
	require.NoError(t, err)
	first := h.engine.GetDeliveredInsights()
	require.Len(t, first, 1)

	h.engine.generator = nil
	h.clock.Advance(6 * time.Minute)
	_, err = h.engine.PollSource(context.Background(), "trading")
	require.NoError(t, err)

	assert.Empty(t, h.engine.GetDeliveredInsights())
	stored, ok := h.repo.Insight(first[0].ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateExpired, stored.State)
}

func TestExpiredInsightCannotBeResolvedFromStaleList(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "")
	ctx := context.Background()
	h.engine.generator = generatorFunc(func(domain.SourceReading, ports.GeneratorConfig) []domain.Insight {
		expires := h.clock.Now().Add(time.Minute)
		return []domain.Insight{{Type: domain.TypeAnomaly, Title: "BTC spread widening", Impact: 1, ExpiresAt: &expires}}
	})
	require.NoError(t, h.engine.RegisterAdapter(&stubAdapter{id: "trading"}))

	_, err := h.engine.PollSource(ctx, "trading")
	require.NoError(t, err)
	stale := h.engine.GetDeliveredInsights()
	require.Len(t, stale, 1)

	h.engine.generator = nil
	h.clock.Advance(2 * time.Minute)
	_, err = h.engine.PollSource(ctx, "trading")
	require.NoError(t, err)

	assert.Empty(t, h.tracker.CheckExplicitAction(ctx, "thanks", stale, "s"))
	assert.Empty(t, h.tracker.CheckImplicitAction(ctx, "exec", "btc", stale, "s"))
	assert.Empty(t, h.repo.Feedback())

	stored, ok := h.repo.Insight(stale[0].ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateExpired, stored.State)

	rate, err := h.repo.GetActionRate(ctx, "trading", domain.TypeAnomaly)
	require.NoError(t, err)
	assert.Zero(t, rate.ObservationCount)
}

func TestUnknownAndDuplicateSources(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "")
	require.NoError(t, h.engine.RegisterAdapter(&stubAdapter{id: "git"}))
	assert.ErrorIs(t, h.engine.RegisterAdapter(&stubAdapter{id: "git"}), ErrDuplicateSource)

	_, err := h.engine.PollSource(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestLoopsPollUntilStopped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "")
	scheduled := &stubAdapter{id: "jobs", interval: 5 * time.Millisecond}
	onDemand := &stubAdapter{id: "session", interval: 0}
	require.NoError(t, h.engine.RegisterAdapter(scheduled))
	require.NoError(t, h.engine.RegisterAdapter(onDemand))

	require.NoError(t, h.engine.Start(context.Background()))
	require.Eventually(t, func() bool { return scheduled.polls.Load() >= 3 }, time.Second, time.Millisecond)

	h.engine.Stop()
	assert.False(t, h.engine.Running())
	time.Sleep(20 * time.Millisecond)
	settled := scheduled.polls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, scheduled.polls.Load())
	assert.Zero(t, onDemand.polls.Load(), "non-positive interval is on demand only")
}

func TestStartRecoversPersistedQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "")
	ctx := context.Background()
	at := h.clock.Now().Add(-time.Minute)

	require.NoError(t, h.repo.SaveInsight(ctx, domain.Insight{
		ID: "q1", SourceID: "git", Type: domain.TypeInformational, State: domain.StateQueued, UrgencyScore: 0.4,
	}))
	require.NoError(t, h.repo.SaveInsight(ctx, domain.Insight{
		ID: "d1", SourceID: "trading", Type: domain.TypeAnomaly, State: domain.StateDelivered,
		UrgencyScore: 0.7, DeliveredAt: &at, DeliveryChannel: domain.ChannelMessage,
	}))

	require.NoError(t, h.engine.Start(ctx))
	defer h.engine.Stop()

	result := h.engine.QueryInsights(Filter{})
	require.Len(t, result.Insights, 2)
	assert.Equal(t, "d1", result.Insights[0].ID)

	delivered := h.engine.GetDeliveredInsights()
	require.Len(t, delivered, 1)

	out := h.engine.HandleToolCall(ctx, "exec", map[string]string{"cmd": "btc depth"}, "")
	require.Len(t, out, 1)
	assert.Equal(t, "sess", out[0].SessionID)
	assert.Empty(t, h.engine.GetDeliveredInsights(), "resolution removes the insight from the queue")
}

func TestLowValueSuppression(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, feedback.PolicySuppress)
	h.engine.generator = urgentGenerator(h.clock)
	require.NoError(t, h.repo.UpsertActionRate(context.Background(), domain.ActionRate{
		SourceID: "trading", InsightType: domain.TypeAnomaly, Rate: 0.02, ObservationCount: 40, LowValue: true,
	}))
	require.NoError(t, h.engine.RegisterAdapter(&stubAdapter{id: "trading"}))

	_, err := h.engine.PollSource(context.Background(), "trading")
	require.NoError(t, err)
	assert.Empty(t, h.engine.QueryInsights(Filter{}).Insights)
}

func TestLowValueDemotion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, feedback.PolicyDemote)
	h.engine.generator = urgentGenerator(h.clock)
	require.NoError(t, h.repo.UpsertActionRate(context.Background(), domain.ActionRate{
		SourceID: "trading", InsightType: domain.TypeAnomaly, Rate: 0, ObservationCount: 40, LowValue: true,
	}))
	require.NoError(t, h.engine.RegisterAdapter(&stubAdapter{id: "trading"}))

	_, err := h.engine.PollSource(context.Background(), "trading")
	require.NoError(t, err)
	insights := h.engine.QueryInsights(Filter{}).Insights
	require.Len(t, insights, 1)
	// 0.4 + 0.3 + 0 + 0 = 0.7, halved.
	assert.InDelta(t, 0.35, insights[0].UrgencyScore, 1e-9)
	assert.Equal(t, domain.UrgencyMedium, insights[0].Urgency)
}

func TestRelevantAndFilteredQueries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, "")
	h.engine.mu.Lock()
	for i, spec := range []struct {
		id, source, title string
		score             float64
		urgency           domain.Urgency
	}{
		{"a", "trading", "BTC spread", 0.9, domain.UrgencyCritical},
		{"b", "trading", "ETH spread", 0.7, domain.UrgencyHigh},
		{"c", "fleet", "Truck idle", 0.5, domain.UrgencyMedium},
		{"d", "git", "Spread sheet merged", 0.2, domain.UrgencyLow},
		{"e", "git", "PR stale", 0.1, domain.UrgencyLow},
	} {
		h.engine.queue[spec.id] = domain.Insight{
			ID: spec.id, SourceID: spec.source, Title: spec.title, UrgencyScore: spec.score,
			Urgency: spec.urgency, State: domain.StateDelivered, Type: domain.TypeAlert,
			GeneratedAt: h.clock.Now().Add(time.Duration(i) * time.Second),
		}
	}
	h.engine.mu.Unlock()

	relevant := h.engine.GetRelevantInsights([]string{"SPREAD"})
	require.Len(t, relevant, 3)
	assert.Equal(t, []string{"a", "b", "d"}, ids(relevant))

	assert.Empty(t, h.engine.GetRelevantInsights(nil))
	assert.Empty(t, h.engine.GetRelevantInsights([]string{" ", ""}))
	assert.Empty(t, h.engine.GetRelevantInsights([]string{"kubernetes"}))

	res := h.engine.QueryInsights(Filter{MinUrgency: domain.UrgencyHigh})
	assert.Equal(t, []string{"a", "b"}, ids(res.Insights))

	res = h.engine.QueryInsights(Filter{SourceID: "git", Limit: 1})
	assert.Equal(t, []string{"d"}, ids(res.Insights))
}

func ids(insights []domain.Insight) []string {
	out := make([]string, len(insights))
	for i, insight := range insights {
		out[i] = insight.ID
	}
	return out
}
