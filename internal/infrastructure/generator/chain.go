package generator

import (
	"context"
	"errors"
	"log/slog"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

// Chain runs several generators over the same reading and concatenates their
// candidates. A failing member is logged and skipped; Generate only errors
// when every member failed.
type Chain struct {
	members []ports.Generator
	logger  *slog.Logger
}

var _ ports.Generator = (*Chain)(nil)

// NewChain drops nil members.
func NewChain(logger *slog.Logger, members ...ports.Generator) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger}
	for _, m := range members {
		if m != nil {
			c.members = append(c.members, m)
		}
	}
	return c
}

// Len reports the number of members.
func (c *Chain) Len() int { return len(c.members) }

// Generate implements ports.Generator.
func (c *Chain) Generate(ctx context.Context, reading domain.SourceReading, cfg ports.GeneratorConfig, existing []domain.Insight) ([]domain.Insight, error) {
	var (
		out  []domain.Insight
		errs []error
	)
	seen := append([]domain.Insight(nil), existing...)
	for _, m := range c.members {
		candidates, err := m.Generate(ctx, reading, cfg, seen)
		if err != nil {
			c.logger.Warn("generator failed", "source", reading.SourceID, "error", err)
			errs = append(errs, err)
			continue
		}
		// Earlier candidates count as active so later members skip their titles.
		for _, in := range candidates {
			in.State = domain.StateScored
			seen = append(seen, in)
		}
		out = append(out, candidates...)
	}
	if len(c.members) > 0 && len(errs) == len(c.members) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
