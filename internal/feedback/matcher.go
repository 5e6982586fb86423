package feedback

import (
	"encoding/json"
	"regexp"
	"strings"

	"ProactiveInsights/internal/domain"
)

// ActionMatcher decides whether a tool invocation counts as acting on an insight.
type ActionMatcher interface {
	Matches(insight domain.Insight, toolName, serializedArgs string) bool
}

// KeywordMatcher matches serialized tool arguments against a per-source keyword list.
type KeywordMatcher struct {
	keywords map[string][]string
}

var _ ActionMatcher = (*KeywordMatcher)(nil)

// NewKeywordMatcher lower-cases and trims the configured keywords.
func NewKeywordMatcher(keywords map[string][]string) *KeywordMatcher {
	normalized := make(map[string][]string, len(keywords))
	for source, list := range keywords {
		for _, kw := range list {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				normalized[source] = append(normalized[source], kw)
			}
		}
	}
	return &KeywordMatcher{keywords: normalized}
}

// Matches reports whether any keyword of the insight's source appears in the arguments.
func (m *KeywordMatcher) Matches(insight domain.Insight, _ string, serializedArgs string) bool {
	if m == nil {
		return false
	}
	haystack := strings.ToLower(serializedArgs)
	for _, kw := range m.keywords[insight.SourceID] {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// DefaultAckPattern recognises acknowledging replies. Short words like "ok" or
// "done" count only as the whole reply or its leading word before punctuation,
// so "not done yet" and "checking the logs, ok?" do not match.
var DefaultAckPattern = regexp.MustCompile(`(?i)^\s*(?:ack|done|ok|okay|sure|yes|yep|on it|will do)\s*(?:[,.!]|$)|\b(?:thanks|thank you|got it|noted|acknowledged|good catch|looking into (?:it|this))\b`)

// CompileAckPattern returns DefaultAckPattern for an empty expression.
func CompileAckPattern(expr string) (*regexp.Regexp, error) {
	if strings.TrimSpace(expr) == "" {
		return DefaultAckPattern, nil
	}
	return regexp.Compile(expr)
}

func serializeArgs(args any) string {
	switch v := args.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(raw)
}
