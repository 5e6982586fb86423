package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "insights.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo.WithClock(func() time.Time { return baseTime })
}

func sampleInsight(id string, score float64, state domain.State) domain.Insight {
	return domain.Insight{
		ID:           id,
		Type:         domain.TypeAnomaly,
		SourceID:     "trading",
		Title:        "Spread widening " + id,
		Body:         "BTC/USD spread above band",
		Urgency:      domain.UrgencyHigh,
		UrgencyScore: score,
		Confidence:   0.8,
		Actionable:   true,
		GeneratedAt:  baseTime,
		State:        state,
		SessionID:    "s1",
	}
}

func TestMigrateIdempotent(t *testing.T) {
	repo := openTestDB(t)
	require.NoError(t, repo.Migrate(context.Background()))
}

func TestSaveAndQueueOrdering(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveInsight(ctx, sampleInsight("low", 0.3, domain.StateQueued)))
	require.NoError(t, repo.SaveInsight(ctx, sampleInsight("high", 0.9, domain.StateQueued)))
	require.NoError(t, repo.SaveInsight(ctx, sampleInsight("done", 0.95, domain.StateActedOn)))

	queued, err := repo.GetQueuedInsights(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "high", queued[0].ID)
	assert.Equal(t, "low", queued[1].ID)
	assert.Equal(t, domain.SchemaVersion, queued[0].SchemaVersion)
	assert.True(t, queued[0].Actionable)
	assert.Nil(t, queued[0].ExpiresAt)
	assert.True(t, baseTime.Equal(queued[0].GeneratedAt))
}

func TestUpdateStateAndRecentDelivered(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveInsight(ctx, sampleInsight("a", 0.7, domain.StateQueued)))
	require.NoError(t, repo.SaveInsight(ctx, sampleInsight("b", 0.7, domain.StateQueued)))

	first := baseTime.Add(time.Minute)
	second := baseTime.Add(2 * time.Minute)
	require.NoError(t, repo.UpdateInsightState(ctx, "a", domain.StateDelivered,
		ports.StateUpdate{Channel: domain.ChannelMessage, DeliveredAt: &first}))
	require.NoError(t, repo.UpdateInsightState(ctx, "b", domain.StateDelivered,
		ports.StateUpdate{Channel: domain.ChannelPush, DeliveredAt: &second}))

	delivered, err := repo.GetRecentDelivered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, "b", delivered[0].ID)
	assert.Equal(t, domain.ChannelPush, delivered[0].DeliveryChannel)
	require.NotNil(t, delivered[1].DeliveredAt)
	assert.True(t, first.Equal(*delivered[1].DeliveredAt))

	limited, err := repo.GetRecentDelivered(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateStateRefusesToLeaveTerminal(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveInsight(ctx, sampleInsight("gone", 0.7, domain.StateExpired)))
	err := repo.UpdateInsightState(ctx, "gone", domain.StateActedOn, ports.StateUpdate{})
	assert.ErrorIs(t, err, domain.ErrTerminalState)

	require.NoError(t, repo.UpdateInsightState(ctx, "missing", domain.StateActedOn, ports.StateUpdate{}))

	require.NoError(t, repo.SaveInsight(ctx, sampleInsight("live", 0.7, domain.StateDelivered)))
	require.NoError(t, repo.UpdateInsightState(ctx, "live", domain.StateIgnored, ports.StateUpdate{}))
	assert.ErrorIs(t, repo.UpdateInsightState(ctx, "live", domain.StateExpired, ports.StateUpdate{}), domain.ErrTerminalState)

	var state string
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT state FROM insights WHERE id = ?", "gone").Scan(&state))
	assert.Equal(t, string(domain.StateExpired), state)
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT state FROM insights WHERE id = ?", "live").Scan(&state))
	assert.Equal(t, string(domain.StateIgnored), state)
}

func TestExpireStaleInsights(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	past := baseTime.Add(-time.Minute)
	future := baseTime.Add(time.Hour)

	stale := sampleInsight("stale", 0.5, domain.StateQueued)
	stale.ExpiresAt = &past
	fresh := sampleInsight("fresh", 0.5, domain.StateQueued)
	fresh.ExpiresAt = &future
	resolved := sampleInsight("resolved", 0.5, domain.StateIgnored)
	resolved.ExpiresAt = &past

	for _, i := range []domain.Insight{stale, fresh, resolved} {
		require.NoError(t, repo.SaveInsight(ctx, i))
	}

	n, err := repo.ExpireStaleInsights(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued, err := repo.GetQueuedInsights(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "fresh", queued[0].ID)
}

func TestActionRatePriorAndUpsert(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	rate, err := repo.GetActionRate(ctx, "fleet", domain.TypeAlert)
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultActionRatePrior, rate.Rate, 1e-9)
	assert.Zero(t, rate.ObservationCount)

	rate.Rate = 0.05
	rate.ObservationCount = 21
	rate.LowValue = true
	require.NoError(t, repo.UpsertActionRate(ctx, rate))

	rate.ObservationCount = 22
	require.NoError(t, repo.UpsertActionRate(ctx, rate))

	got, err := repo.GetActionRate(ctx, "fleet", domain.TypeAlert)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got.Rate, 1e-9)
	assert.Equal(t, 22, got.ObservationCount)
	assert.True(t, got.LowValue)
}

func TestFeedbackHistoryWindow(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	latency := int64(42000)
	records := []domain.InsightFeedback{
		{ID: "f1", InsightID: "i1", InsightType: domain.TypeAnomaly, SourceID: "trading", ActedOn: true,
			ActionType: domain.ActionImplicit, LatencyMs: &latency, CreatedAt: baseTime.Add(-24 * time.Hour)},
		{ID: "f2", InsightID: "i2", InsightType: domain.TypeAnomaly, SourceID: "trading", ActedOn: true,
			ActionType: domain.ActionExplicit, CreatedAt: baseTime.Add(-40 * 24 * time.Hour)},
		{ID: "f3", InsightID: "i3", InsightType: domain.TypeAnomaly, SourceID: "trading", ActedOn: false,
			ActionType: domain.ActionIgnored, CreatedAt: baseTime.Add(-time.Hour)},
	}
	for _, fb := range records {
		fb.DeliveredAt = fb.CreatedAt
		fb.UrgencyAtDelivery = domain.UrgencyHigh
		fb.Channel = domain.ChannelMessage
		fb.SessionID = "s1"
		require.NoError(t, repo.SaveFeedback(ctx, fb))
	}

	acted, err := repo.GetFeedbackHistory(ctx, "trading", domain.TypeAnomaly, true, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, acted, 1)
	assert.Equal(t, "f1", acted[0].ID)
	require.NotNil(t, acted[0].LatencyMs)
	assert.Equal(t, latency, *acted[0].LatencyMs)

	ignored, err := repo.GetFeedbackHistory(ctx, "trading", domain.TypeAnomaly, false, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, ignored, 1)
	assert.Nil(t, ignored[0].LatencyMs)
}

func TestAtoms(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	id, err := repo.CreateAtom(ctx, domain.Atom{
		Subject:    "trading anomaly insights",
		Action:     "delivered",
		Outcome:    "acted on",
		Confidence: 0.6,
		Source:     "pattern-learner",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	found, err := repo.SearchAtoms(ctx, "subject", "Trading Anomaly")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)

	none, err := repo.SearchAtoms(ctx, "subject", "fleet")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.SearchAtoms(ctx, "id; DROP TABLE atoms", "x")
	assert.Error(t, err)
}
