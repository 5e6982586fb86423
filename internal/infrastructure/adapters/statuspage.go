package adapters

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

// Selectors locate component rows on a hosted status page.
type Selectors struct {
	Overall   string
	Component string
	Name      string
	Status    string
	Incident  string
}

// DefaultSelectors match the common hosted status page markup.
var DefaultSelectors = Selectors{
	Overall:   ".page-status .status",
	Component: ".component-inner-container",
	Name:      ".name",
	Status:    ".component-status",
	Incident:  ".unresolved-incident .incident-title",
}

// StatusPageAdapter scrapes an HTML status page into a reading whose payload
// carries the overall status, per-component status and open incidents.
type StatusPageAdapter struct {
	httpSource
	sel Selectors
}

var _ ports.SourceAdapter = (*StatusPageAdapter)(nil)

// NewStatusPageAdapter builds the adapter; empty selector fields fall back to DefaultSelectors.
func NewStatusPageAdapter(s Settings, sel Selectors) (*StatusPageAdapter, error) {
	base, err := newHTTPSource(s)
	if err != nil {
		return nil, err
	}
	if sel.Overall == "" {
		sel.Overall = DefaultSelectors.Overall
	}
	if sel.Component == "" {
		sel.Component = DefaultSelectors.Component
	}
	if sel.Name == "" {
		sel.Name = DefaultSelectors.Name
	}
	if sel.Status == "" {
		sel.Status = DefaultSelectors.Status
	}
	if sel.Incident == "" {
		sel.Incident = DefaultSelectors.Incident
	}
	return &StatusPageAdapter{httpSource: base, sel: sel}, nil
}

// Poll fetches and parses the page.
func (a *StatusPageAdapter) Poll(ctx context.Context) (domain.SourceReading, error) {
	var doc *goquery.Document
	err := a.fetch(ctx, func(r io.Reader) error {
		var err error
		doc, err = goquery.NewDocumentFromReader(r)
		if err != nil {
			return fmt.Errorf("parse document: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.SourceReading{}, err
	}

	return domain.SourceReading{
		SourceID:    a.id,
		CapturedAt:  a.now().UTC(),
		Available:   true,
		FreshnessMs: a.freshnessMs(),
		Payload:     a.extract(doc),
	}, nil
}

func (a *StatusPageAdapter) extract(doc *goquery.Document) map[string]any {
	var (
		components []any
		degraded   []any
		incidents  []any
	)

	doc.Find(a.sel.Component).Each(func(_ int, s *goquery.Selection) {
		name := cleanText(s.Find(a.sel.Name).First().Text())
		if name == "" {
			return
		}
		status := strings.ToLower(cleanText(s.Find(a.sel.Status).First().Text()))
		if status == "" {
			status = "unknown"
		}
		components = append(components, map[string]any{"name": name, "status": status})
		if status != "operational" {
			degraded = append(degraded, name)
		}
	})

	doc.Find(a.sel.Incident).Each(func(_ int, s *goquery.Selection) {
		if title := cleanText(s.Text()); title != "" {
			incidents = append(incidents, title)
		}
	})

	return map[string]any{
		"overall":        cleanText(doc.Find(a.sel.Overall).First().Text()),
		"components":     components,
		"degraded":       degraded,
		"degraded_count": float64(len(degraded)),
		"incidents":      incidents,
		"incident_count": float64(len(incidents)),
	}
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
