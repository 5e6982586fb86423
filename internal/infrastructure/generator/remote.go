package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

// RemoteGenerator asks an external inference service to propose insights for a reading.
type RemoteGenerator struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Generator = (*RemoteGenerator)(nil)

// NewRemoteGenerator creates a reusable HTTP client.
func NewRemoteGenerator(endpoint, apiKey string) *RemoteGenerator {
	return &RemoteGenerator{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type generateRequest struct {
	Reading   domain.SourceReading `json:"reading"`
	SessionID string               `json:"session_id"`
	Now       time.Time            `json:"now"`
	Options   map[string]string    `json:"options,omitempty"`
	Existing  []string             `json:"existing_titles"`
}

type proposal struct {
	Type       domain.InsightType `json:"type"`
	Title      string             `json:"title"`
	Body       string             `json:"body"`
	Impact     float64            `json:"impact"`
	Confidence float64            `json:"confidence"`
	Actionable bool               `json:"actionable"`
	TTLMs      int64              `json:"ttl_ms"`
}

// Generate posts the reading to /generate. Unavailable readings are not sent.
func (g *RemoteGenerator) Generate(ctx context.Context, reading domain.SourceReading, cfg ports.GeneratorConfig, existing []domain.Insight) ([]domain.Insight, error) {
	if !reading.Available {
		return nil, nil
	}

	titles := make([]string, 0, len(existing))
	for _, in := range existing {
		if in.SourceID == reading.SourceID && in.State.IsActive() {
			titles = append(titles, in.Title)
		}
	}

	var resp struct {
		Insights []proposal `json:"insights"`
	}
	if err := g.post(ctx, "/generate", generateRequest{
		Reading:   reading,
		SessionID: cfg.SessionID,
		Now:       cfg.Now,
		Options:   cfg.Options,
		Existing:  titles,
	}, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Insight, 0, len(resp.Insights))
	for _, p := range resp.Insights {
		if p.Title == "" {
			continue
		}
		in := domain.Insight{
			Type:       p.Type,
			SourceID:   reading.SourceID,
			Title:      p.Title,
			Body:       p.Body,
			Confidence: p.Confidence,
			Actionable: p.Actionable,
			Impact:     p.Impact,
		}
		if p.TTLMs > 0 {
			exp := cfg.Now.Add(time.Duration(p.TTLMs) * time.Millisecond)
			in.ExpiresAt = &exp
		}
		out = append(out, in)
	}
	return out, nil
}

func (g *RemoteGenerator) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
