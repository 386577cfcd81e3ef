package analyzer

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// DocsGapAnalyzer flags tools/endpoints that are heavily used but, per the
// host-supplied DocPredicate, undocumented.
type DocsGapAnalyzer struct {
	MinUsage int
	enabled  bool
}

// NewDocsGapAnalyzer builds the analyzer from config thresholds.
func NewDocsGapAnalyzer(minUsage int, enabled bool) *DocsGapAnalyzer {
	return &DocsGapAnalyzer{MinUsage: minUsage, enabled: enabled}
}

func (a *DocsGapAnalyzer) Name() string  { return "documentation_gap" }
func (a *DocsGapAnalyzer) Enabled() bool { return a.enabled }

func (a *DocsGapAnalyzer) Analyze(ctx Context) []taskcard.TaskCard {
	if ctx.DocPredicate == nil {
		return nil
	}

	calls := event.Filter(ctx.Events, event.Criterion{Act: "tool_call"})
	byName := event.GroupBy(calls, func(e event.Event) string { return e.Name })

	var cards []taskcard.TaskCard
	for name, group := range byName {
		if name == "" || len(group) < a.MinUsage {
			continue
		}
		if ctx.DocPredicate(name) {
			continue
		}

		confidence := clamp(0.6+float64(len(group)-a.MinUsage)*0.01, 0.6, 0.9)

		severity := taskcard.SeverityMedium
		switch {
		case len(group) >= 100:
			severity = taskcard.SeverityCritical
		case len(group) >= 50:
			severity = taskcard.SeverityHigh
		}

		evidence := taskcard.Evidence{
			Summary: fmt.Sprintf("%s was called %d times in the current window with no documentation found", name, len(group)),
			Metrics: map[string]float64{"call_count": float64(len(group))},
		}

		card, err := taskcard.New(
			taskcard.TypeDocumentationGap,
			severity,
			fmt.Sprintf("Document tool %s", name),
			fmt.Sprintf("Tool %s has been called %d times without documentation.", name, len(group)),
			evidence,
			taskcard.SuggestedFix{
				Approach:        fmt.Sprintf("Write reference documentation for %s covering its parameters, return shape, and common failure modes.", name),
				EstimatedEffort: "small",
			},
			[]string{fmt.Sprintf("%s has a documentation entry reviewers can link to", name)},
			confidence,
			a.Name(),
			time.Now().UTC(),
		)
		if err != nil {
			continue
		}
		cards = append(cards, card)
	}
	return cards
}
