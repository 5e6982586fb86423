package ports

import (
	"context"
	"time"

	"ProactiveInsights/internal/domain"
)

// SourceAdapter reads one operational data source. Poll implementations are
// expected to bound their own latency; the engine does not impose a timeout.
type SourceAdapter interface {
	SourceID() string
	PollInterval() time.Duration
	Poll(ctx context.Context) (domain.SourceReading, error)
}

// GeneratorConfig carries the knobs a generator may consult.
type GeneratorConfig struct {
	SessionID string
	Now       time.Time
	Options   map[string]string
}

// Generator turns a reading into zero or more candidate insights.
type Generator interface {
	Generate(ctx context.Context, reading domain.SourceReading, cfg GeneratorConfig, existing []domain.Insight) ([]domain.Insight, error)
}

// StateUpdate carries optional columns written alongside a state change.
type StateUpdate struct {
	Channel     domain.Channel
	DeliveredAt *time.Time
}

// InsightRepository is the durable store behind the engine and the learning loop.
type InsightRepository interface {
	SaveInsight(ctx context.Context, insight domain.Insight) error
	UpdateInsightState(ctx context.Context, id string, state domain.State, update StateUpdate) error
	GetQueuedInsights(ctx context.Context) ([]domain.Insight, error)
	SaveFeedback(ctx context.Context, feedback domain.InsightFeedback) error
	GetActionRate(ctx context.Context, sourceID string, insightType domain.InsightType) (domain.ActionRate, error)
	UpsertActionRate(ctx context.Context, rate domain.ActionRate) error
	GetFeedbackHistory(ctx context.Context, sourceID string, insightType domain.InsightType, actedOn bool, window time.Duration) ([]domain.InsightFeedback, error)
	GetRecentDelivered(ctx context.Context, limit int) ([]domain.Insight, error)
	ExpireStaleInsights(ctx context.Context, now time.Time) (int, error)
}

// Sender pushes pre-formatted text to an external channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, text string) error {
	return f(ctx, text)
}

// KnowledgeStore holds durable causal facts (atoms).
type KnowledgeStore interface {
	CreateAtom(ctx context.Context, atom domain.Atom) (string, error)
	SearchAtoms(ctx context.Context, field, query string) ([]domain.Atom, error)
}

// EventPublisher streams lifecycle events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Scheduler controls when periodic jobs execute.
type Scheduler interface {
	Every(interval time.Duration, job func()) error
	Spec(spec string, job func()) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
