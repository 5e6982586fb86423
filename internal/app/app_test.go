package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProactiveInsights/internal/config"
	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/logging"
	"ProactiveInsights/internal/usecase"
)

func testConfig(t *testing.T, sourceURL string) config.Config {
	t.Helper()
	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "insights.db")}
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Sources = []config.SourceConfig{{ID: "ci", Kind: "json", URL: sourceURL, PollIntervalMs: 0}}
	cfg.Generator.Rules = []config.RuleConfig{{
		Field: "failed_builds", Op: "gte", Value: "1", Type: "alert",
		Title: "{value} failing builds", Impact: 1, TTLMs: 600_000,
	}}
	cfg.Keywords = map[string][]string{"ci": {"rerun"}}
	return cfg
}

func TestApplicationEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"failed_builds": 2}`))
	}))
	defer server.Close()

	ctx := context.Background()
	a, err := New(ctx, testConfig(t, server.URL), logging.New("error", "text"), nil)
	require.NoError(t, err)
	defer a.close()

	reading, err := a.Engine().PollSource(ctx, "ci")
	require.NoError(t, err)
	assert.True(t, reading.Available)

	delivered := a.Engine().GetDeliveredInsights()
	require.Len(t, delivered, 1)
	assert.Equal(t, "2 failing builds", delivered[0].Title)

	queued, err := a.store.GetRecentDelivered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, domain.StateDelivered, queued[0].State)

	resolved := a.Engine().HandleToolCall(ctx, "bash", map[string]any{"cmd": "ci rerun --failed"}, "")
	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].ActedOn)
	assert.Empty(t, a.Engine().QueryInsights(usecase.Filter{}).Insights)
}

func TestRunStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Database = config.DatabaseConfig{Driver: "memory"}
	a, err := New(context.Background(), cfg, logging.New("error", "text"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, a.Engine().Running, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, a.Engine().Running())
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "mongo"})
	assert.ErrorContains(t, err, "mongo")

	store, closer, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Nil(t, closer)
}

func TestBuildSenders(t *testing.T) {
	logger := logging.New("error", "text")
	assert.Empty(t, buildSenders(config.NotificationConfig{}, logger))

	both := buildSenders(config.NotificationConfig{
		Telegram: config.TelegramConfig{BotToken: "t", ChatID: "1"},
		Slack:    config.SlackConfig{BotToken: "x", Channel: "#ops"},
	}, logger)
	assert.Len(t, both, 3)
	assert.NotSame(t, both[domain.ChannelPush], both[domain.ChannelMessage])

	slackOnly := buildSenders(config.NotificationConfig{Slack: config.SlackConfig{BotToken: "x", Channel: "#ops"}}, logger)
	assert.Len(t, slackOnly, 3)
	assert.Equal(t, slackOnly[domain.ChannelMessage], slackOnly[domain.ChannelPush])
}

func TestBuildGeneratorRejectsBadRules(t *testing.T) {
	_, err := buildGenerator(config.GeneratorConfig{Rules: []config.RuleConfig{{Field: "x", Op: "between", Title: "t"}}}, logging.New("error", "text"))
	assert.Error(t, err)
}

func TestNewRejectsBadAckPattern(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Database = config.DatabaseConfig{Driver: "memory"}
	cfg.Feedback.AckPattern = "(unclosed"

	_, err := New(context.Background(), cfg, logging.New("error", "text"), nil)
	assert.ErrorContains(t, err, "ack_pattern")
}
