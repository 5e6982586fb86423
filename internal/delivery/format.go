package delivery

import (
	"fmt"
	"strings"

	"ProactiveInsights/internal/domain"
)

// FormatInsight renders the one-line tagged summary.
func FormatInsight(insight domain.Insight) string {
	return fmt.Sprintf("[PREDICTIVE %s] %s (%s)",
		strings.ToUpper(string(insight.Urgency)),
		insight.Title,
		insight.SourceID)
}

// FormatBatch renders a count-prefixed block of one-liners; empty input yields "".
func FormatBatch(insights []domain.Insight) string {
	if len(insights) == 0 {
		return ""
	}

	var sb strings.Builder
	noun := "insights"
	if len(insights) == 1 {
		noun = "insight"
	}
	sb.WriteString(fmt.Sprintf("[PREDICTIVE BATCH] %d %s\n", len(insights), noun))
	for i, insight := range insights {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(FormatInsight(insight))
	}
	return sb.String()
}
