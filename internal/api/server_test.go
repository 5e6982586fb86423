package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/usecase"
)

type fakeEngine struct {
	toolName string
	toolArgs any
	message  string
	session  string
	keywords []string
	filter   usecase.Filter
	flushed  int
	insights []domain.Insight
	resolved []domain.InsightFeedback
	readings map[string]domain.SourceReading
}

func (f *fakeEngine) HandleToolCall(_ context.Context, toolName string, toolArgs any, sessionID string) []domain.InsightFeedback {
	f.toolName, f.toolArgs, f.session = toolName, toolArgs, sessionID
	return f.resolved
}

func (f *fakeEngine) HandleMessage(_ context.Context, text, sessionID string) []domain.InsightFeedback {
	f.message, f.session = text, sessionID
	return f.resolved
}

func (f *fakeEngine) GetRelevantInsights(keywords []string) []domain.Insight {
	f.keywords = keywords
	return f.insights
}

func (f *fakeEngine) QueryInsights(filter usecase.Filter) usecase.QueryResult {
	f.filter = filter
	return usecase.QueryResult{Insights: f.insights, SourcesPolled: []string{"ci"}, SourcesStale: []string{}}
}

func (f *fakeEngine) GetDeliveredInsights() []domain.Insight { return nil }

func (f *fakeEngine) DrainBatch(context.Context) int { return f.flushed }

func (f *fakeEngine) PollSource(_ context.Context, id string) (domain.SourceReading, error) {
	r, ok := f.readings[id]
	if !ok {
		return domain.SourceReading{}, usecase.ErrUnknownSource
	}
	return r, nil
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestToolHook(t *testing.T) {
	eng := &fakeEngine{resolved: []domain.InsightFeedback{{InsightID: "i1", ActedOn: true, ActionType: domain.ActionImplicit}}}
	h := NewServer(":0", eng, nil).Handler()

	rec := do(t, h, http.MethodPost, "/hooks/tool", `{"tool_name":"bash","tool_args":{"cmd":"kubectl rollout restart"},"session_id":"s9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bash", eng.toolName)
	assert.Equal(t, map[string]any{"cmd": "kubectl rollout restart"}, eng.toolArgs)
	assert.Equal(t, "s9", eng.session)

	var body resolvedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Resolved, 1)
	assert.Equal(t, "i1", body.Resolved[0].InsightID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/hooks/tool", `{"tool_args":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/hooks/tool", `{"tool_name":"x","extra":1}`).Code)
}

func TestMessageHookReturnsEmptyList(t *testing.T) {
	eng := &fakeEngine{}
	h := NewServer(":0", eng, nil).Handler()

	rec := do(t, h, http.MethodPost, "/hooks/message", `{"text":"thanks, on it"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "thanks, on it", eng.message)
	assert.JSONEq(t, `{"resolved":[]}`, rec.Body.String())
}

func TestQueryParameters(t *testing.T) {
	eng := &fakeEngine{insights: []domain.Insight{{ID: "a", GeneratedAt: time.Unix(0, 0).UTC()}}}
	h := NewServer(":0", eng, nil).Handler()

	rec := do(t, h, http.MethodGet, "/insights?source=ci&type=alert&min_urgency=HIGH&state=queued,delivered&state=scored&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.Filter{
		SourceID:   "ci",
		Type:       "alert",
		MinUrgency: domain.UrgencyHigh,
		States:     []domain.State{domain.StateQueued, domain.StateDelivered, domain.StateScored},
		Limit:      5,
	}, eng.filter)

	var result usecase.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []string{"ci"}, result.SourcesPolled)

	do(t, h, http.MethodGet, "/insights?limit=nope", "")
	assert.Zero(t, eng.filter.Limit)
	assert.Empty(t, eng.filter.MinUrgency)
}

func TestRelevantDeliveredAndFlush(t *testing.T) {
	eng := &fakeEngine{flushed: 4}
	h := NewServer(":0", eng, nil).Handler()

	rec := do(t, h, http.MethodGet, "/insights/relevant?keywords=deploy,%20latency", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"deploy", "latency"}, eng.keywords)
	assert.JSONEq(t, `{"insights":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/insights/delivered", "")
	assert.JSONEq(t, `{"insights":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/batch/flush", "")
	assert.JSONEq(t, `{"flushed":4}`, rec.Body.String())
}

func TestPollEndpoint(t *testing.T) {
	eng := &fakeEngine{readings: map[string]domain.SourceReading{"ci": {SourceID: "ci", Available: true}}}
	h := NewServer(":0", eng, nil).Handler()

	rec := do(t, h, http.MethodPost, "/sources/ci/poll", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":true`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/sources/nope/poll", "").Code)
}

func TestMetricsAndHealth(t *testing.T) {
	h := NewServer(":0", &fakeEngine{}, nil).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
