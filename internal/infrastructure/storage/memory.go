package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

// MemoryRepository keeps everything in process. Used when no database is
// configured and by tests.
type MemoryRepository struct {
	mu       sync.Mutex
	insights map[string]domain.Insight
	feedback []domain.InsightFeedback
	rates    map[string]domain.ActionRate
	atoms    []domain.Atom
	now      func() time.Time
}

var (
	_ ports.InsightRepository = (*MemoryRepository)(nil)
	_ ports.KnowledgeStore    = (*MemoryRepository)(nil)
)

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		insights: map[string]domain.Insight{},
		rates:    map[string]domain.ActionRate{},
		now:      time.Now,
	}
}

// WithClock overrides the time source used for history windows.
func (m *MemoryRepository) WithClock(now func() time.Time) *MemoryRepository {
	m.now = now
	return m
}

func (m *MemoryRepository) SaveInsight(_ context.Context, insight domain.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if insight.SchemaVersion == 0 {
		insight.SchemaVersion = domain.SchemaVersion
	}
	m.insights[insight.ID] = insight
	return nil
}

func (m *MemoryRepository) UpdateInsightState(_ context.Context, id string, state domain.State, update ports.StateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insight, ok := m.insights[id]
	if !ok {
		return nil
	}
	if insight.State.IsTerminal() {
		return fmt.Errorf("update %s to %s: %w", id, state, domain.ErrTerminalState)
	}
	insight.State = state
	if update.Channel != "" {
		insight.DeliveryChannel = update.Channel
	}
	if update.DeliveredAt != nil {
		at := *update.DeliveredAt
		insight.DeliveredAt = &at
	}
	m.insights[id] = insight
	return nil
}

func (m *MemoryRepository) GetQueuedInsights(_ context.Context) ([]domain.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Insight
	for _, insight := range m.insights {
		if insight.State == domain.StateQueued || insight.State == domain.StateScored {
			out = append(out, insight)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UrgencyScore > out[j].UrgencyScore })
	return out, nil
}

func (m *MemoryRepository) GetRecentDelivered(_ context.Context, limit int) ([]domain.Insight, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Insight
	for _, insight := range m.insights {
		if insight.State == domain.StateDelivered {
			out = append(out, insight)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return deliveredTime(out[i]).After(deliveredTime(out[j]))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func deliveredTime(i domain.Insight) time.Time {
	if i.DeliveredAt == nil {
		return time.Time{}
	}
	return *i.DeliveredAt
}

func (m *MemoryRepository) ExpireStaleInsights(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, insight := range m.insights {
		if insight.State.IsTerminal() || !insight.Expired(now) {
			continue
		}
		insight.State = domain.StateExpired
		m.insights[id] = insight
		n++
	}
	return n, nil
}

func (m *MemoryRepository) SaveFeedback(_ context.Context, fb domain.InsightFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.feedback {
		if existing.ID == fb.ID {
			return fmt.Errorf("save feedback: duplicate id %s", fb.ID)
		}
	}
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *MemoryRepository) GetFeedbackHistory(_ context.Context, sourceID string, insightType domain.InsightType, actedOn bool, window time.Duration) ([]domain.InsightFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-window)
	var out []domain.InsightFeedback
	for _, fb := range m.feedback {
		if fb.SourceID == sourceID && fb.InsightType == insightType && fb.ActedOn == actedOn && fb.CreatedAt.After(cutoff) {
			out = append(out, fb)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Feedback returns a copy of every stored feedback record.
func (m *MemoryRepository) Feedback() []domain.InsightFeedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.InsightFeedback(nil), m.feedback...)
}

// Insight returns a stored insight by id.
func (m *MemoryRepository) Insight(id string) (domain.Insight, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	insight, ok := m.insights[id]
	return insight, ok
}

func (m *MemoryRepository) GetActionRate(_ context.Context, sourceID string, insightType domain.InsightType) (domain.ActionRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rate, ok := m.rates[domain.PairKey(sourceID, insightType)]; ok {
		return rate, nil
	}
	return domain.NewActionRate(sourceID, insightType, m.now()), nil
}

func (m *MemoryRepository) UpsertActionRate(_ context.Context, rate domain.ActionRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[rate.Key()] = rate
	return nil
}

func (m *MemoryRepository) CreateAtom(_ context.Context, atom domain.Atom) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if atom.ID == "" {
		atom.ID = uuid.NewString()
	}
	if atom.CreatedAt.IsZero() {
		atom.CreatedAt = m.now()
	}
	m.atoms = append(m.atoms, atom)
	return atom.ID, nil
}

func (m *MemoryRepository) SearchAtoms(_ context.Context, field, query string) ([]domain.Atom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(query)
	var out []domain.Atom
	for _, atom := range m.atoms {
		var value string
		switch strings.ToLower(field) {
		case "subject":
			value = atom.Subject
		case "action":
			value = atom.Action
		case "outcome":
			value = atom.Outcome
		case "consequences":
			value = atom.Consequences
		default:
			return nil, fmt.Errorf("search atoms: unknown field %q", field)
		}
		if strings.Contains(strings.ToLower(value), needle) {
			out = append(out, atom)
		}
	}
	return out, nil
}
