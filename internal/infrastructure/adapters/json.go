package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

// JSONAdapter polls an endpoint returning JSON. An object body becomes the
// payload as-is; any other value is wrapped under "data".
type JSONAdapter struct {
	httpSource
}

var _ ports.SourceAdapter = (*JSONAdapter)(nil)

// NewJSONAdapter validates settings and builds the adapter.
func NewJSONAdapter(s Settings) (*JSONAdapter, error) {
	base, err := newHTTPSource(s)
	if err != nil {
		return nil, err
	}
	return &JSONAdapter{httpSource: base}, nil
}

// Poll fetches and decodes the endpoint.
func (a *JSONAdapter) Poll(ctx context.Context) (domain.SourceReading, error) {
	var body any
	err := a.fetch(ctx, func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(&body); err != nil {
			return fmt.Errorf("decode %s: %w", a.id, err)
		}
		return nil
	})
	if err != nil {
		return domain.SourceReading{}, err
	}

	payload, ok := body.(map[string]any)
	if !ok {
		payload = map[string]any{"data": body}
	}
	return domain.SourceReading{
		SourceID:    a.id,
		CapturedAt:  a.now().UTC(),
		Available:   true,
		FreshnessMs: a.freshnessMs(),
		Payload:     payload,
	}, nil
}
