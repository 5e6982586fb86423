package source

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ProactiveInsights/internal/config"
	"ProactiveInsights/internal/infrastructure/adapters"
	"ProactiveInsights/internal/ports"
)

// Spec is everything a factory needs to build one adapter.
type Spec struct {
	ID           string
	URL          string
	PollInterval time.Duration
	Freshness    time.Duration
	Headers      map[string]string
	Options      map[string]string
}

// Factory builds an adapter of one kind.
type Factory func(spec Spec) (ports.SourceAdapter, error)

// Registry keeps a mapping from source kinds to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry knows the built-in HTTP adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("json", func(spec Spec) (ports.SourceAdapter, error) {
		return adapters.NewJSONAdapter(settings(spec))
	})
	r.Register("statuspage", func(spec Spec) (ports.SourceAdapter, error) {
		return adapters.NewStatusPageAdapter(settings(spec), adapters.Selectors{
			Overall:   spec.Options["overall_selector"],
			Component: spec.Options["component_selector"],
			Name:      spec.Options["name_selector"],
			Status:    spec.Options["status_selector"],
			Incident:  spec.Options["incident_selector"],
		})
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(kind string, f Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[kind] = f
}

// Resolve returns a factory by kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Factory, error) {
	if f, ok := r.factories[kind]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("source kind %q is not registered", kind)
}

// Kinds lists registered kinds in order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build turns every configured source into an adapter. A source that fails to
// build is skipped and logged so the rest of the fleet still runs.
func (r *Registry) Build(cfg config.Config, logger *slog.Logger) []ports.SourceAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	built := make([]ports.SourceAdapter, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		factory, err := r.Resolve(src.Kind)
		if err != nil {
			logger.Warn("skip source", "source", src.ID, "error", err)
			continue
		}
		adapter, err := factory(Spec{
			ID:           src.ID,
			URL:          src.URL,
			PollInterval: cfg.PollInterval(src),
			Freshness:    config.Millis(src.FreshnessMs),
			Headers:      src.Headers,
			Options:      src.Options,
		})
		if err != nil {
			logger.Warn("skip source", "source", src.ID, "error", err)
			continue
		}
		logger.Debug("source built", "source", src.ID, "kind", src.Kind, "interval", adapter.PollInterval())
		built = append(built, adapter)
	}
	return built
}

func settings(spec Spec) adapters.Settings {
	return adapters.Settings{
		ID:           spec.ID,
		URL:          spec.URL,
		PollInterval: spec.PollInterval,
		Freshness:    spec.Freshness,
		Headers:      spec.Headers,
	}
}
