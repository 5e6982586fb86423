package generator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ProactiveInsights/internal/config"
	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

// Op is a comparison applied to one payload field.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpExists   Op = "exists"
	OpNonEmpty Op = "nonempty"
)

// Rule raises a candidate when Field in the payload satisfies Op against Value.
// Source "*" or "" applies to every source. Title and Body accept the
// placeholders {source}, {field} and {value}.
type Rule struct {
	Source     string
	Field      string
	Op         Op
	Value      string
	Type       domain.InsightType
	Title      string
	Body       string
	Impact     float64
	Confidence float64
	TTL        time.Duration
	Actionable bool
}

// RulesGenerator evaluates static rules against every available reading.
type RulesGenerator struct {
	rules []Rule
}

var _ ports.Generator = (*RulesGenerator)(nil)

// NewRulesGenerator validates rules up front.
func NewRulesGenerator(rules []Rule) (*RulesGenerator, error) {
	for i, r := range rules {
		if r.Field == "" {
			return nil, fmt.Errorf("rule %d: field is required", i)
		}
		if r.Title == "" {
			return nil, fmt.Errorf("rule %d: title is required", i)
		}
		switch r.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpExists, OpNonEmpty:
		default:
			return nil, fmt.Errorf("rule %d: unknown op %q", i, r.Op)
		}
	}
	return &RulesGenerator{rules: rules}, nil
}

// RulesFromConfig converts YAML rules.
func RulesFromConfig(cfg []config.RuleConfig) []Rule {
	rules := make([]Rule, 0, len(cfg))
	for _, rc := range cfg {
		actionable := true
		if rc.Actionable != nil {
			actionable = *rc.Actionable
		}
		confidence := rc.Confidence
		if confidence == 0 {
			confidence = 0.8
		}
		rules = append(rules, Rule{
			Source:     rc.Source,
			Field:      rc.Field,
			Op:         Op(strings.ToLower(rc.Op)),
			Value:      rc.Value,
			Type:       domain.InsightType(rc.Type),
			Title:      rc.Title,
			Body:       rc.Body,
			Impact:     rc.Impact,
			Confidence: confidence,
			TTL:        config.Millis(rc.TTLMs),
			Actionable: actionable,
		})
	}
	return rules
}

// Generate emits one candidate per matching rule, skipping any whose title is
// already held by an active insight from the same source.
func (g *RulesGenerator) Generate(_ context.Context, reading domain.SourceReading, cfg ports.GeneratorConfig, existing []domain.Insight) ([]domain.Insight, error) {
	if !reading.Available {
		return nil, nil
	}

	active := map[string]struct{}{}
	for _, in := range existing {
		if in.SourceID == reading.SourceID && in.State.IsActive() {
			active[in.Title] = struct{}{}
		}
	}

	var out []domain.Insight
	for _, r := range g.rules {
		if r.Source != "" && r.Source != "*" && r.Source != reading.SourceID {
			continue
		}
		value, found := lookup(reading.Payload, r.Field)
		if !r.matches(value, found) {
			continue
		}

		repl := strings.NewReplacer("{source}", reading.SourceID, "{field}", r.Field, "{value}", render(value))
		title := repl.Replace(r.Title)
		if _, dup := active[title]; dup {
			continue
		}
		active[title] = struct{}{}

		in := domain.Insight{
			Type:        r.Type,
			SourceID:    reading.SourceID,
			Title:       title,
			Body:        repl.Replace(r.Body),
			Confidence:  r.Confidence,
			Actionable:  r.Actionable,
			GeneratedAt: cfg.Now,
			SessionID:   cfg.SessionID,
			Impact:      r.Impact,
		}
		if r.TTL > 0 {
			exp := cfg.Now.Add(r.TTL)
			in.ExpiresAt = &exp
		}
		out = append(out, in)
	}
	return out, nil
}

func (r Rule) matches(value any, found bool) bool {
	switch r.Op {
	case OpExists:
		return found
	case OpNonEmpty:
		return found && !empty(value)
	}
	if !found {
		return false
	}

	switch r.Op {
	case OpEq:
		return render(value) == r.Value
	case OpNe:
		return render(value) != r.Value
	case OpContains:
		return strings.Contains(strings.ToLower(render(value)), strings.ToLower(r.Value))
	}

	got, ok := toFloat(value)
	if !ok {
		return false
	}
	want, err := strconv.ParseFloat(r.Value, 64)
	if err != nil {
		return false
	}
	switch r.Op {
	case OpGt:
		return got > want
	case OpGte:
		return got >= want
	case OpLt:
		return got < want
	case OpLte:
		return got <= want
	}
	return false
}

// lookup walks a dotted path through nested objects.
func lookup(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case float64:
		return x == 0
	case bool:
		return !x
	}
	return false
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, render(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}
