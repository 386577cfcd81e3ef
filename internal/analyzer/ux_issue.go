package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// waitThresholdMs is the per-event elapsed time above which a conversation
// is considered to contain a user-visible wait.
const waitThresholdMs float64 = 8000

// UXIssueAnalyzer groups events by conversation and flags up to three
// distinct friction patterns: high abort rate, frequent long waits, and
// high in-conversation error ratio.
type UXIssueAnalyzer struct {
	AbortRatioThreshold float64
	WaitRatioThreshold  float64
	ErrorRatioThreshold float64
	MinConversations    int
	enabled             bool
}

// NewUXIssueAnalyzer builds the analyzer from config thresholds. The wait
// and error ratio thresholds default to 15% and 25%.
func NewUXIssueAnalyzer(abortThreshold float64, enabled bool) *UXIssueAnalyzer {
	return &UXIssueAnalyzer{
		AbortRatioThreshold: abortThreshold,
		WaitRatioThreshold:  0.15,
		ErrorRatioThreshold: 0.25,
		MinConversations:    10,
		enabled:             enabled,
	}
}

func (a *UXIssueAnalyzer) Name() string  { return "ux_issue" }
func (a *UXIssueAnalyzer) Enabled() bool { return a.enabled }

func (a *UXIssueAnalyzer) Analyze(ctx Context) []taskcard.TaskCard {
	byConv := event.GroupBy(ctx.Events, func(e event.Event) string { return e.ConvID })
	delete(byConv, "")
	if len(byConv) < a.MinConversations {
		return nil
	}

	var cards []taskcard.TaskCard
	if c := a.analyzeAborts(byConv); c != nil {
		cards = append(cards, *c)
	}
	if c := a.analyzeWaits(byConv); c != nil {
		cards = append(cards, *c)
	}
	if c := a.analyzeErrorRatio(byConv); c != nil {
		cards = append(cards, *c)
	}
	return cards
}

func (a *UXIssueAnalyzer) analyzeAborts(byConv map[string][]event.Event) *taskcard.TaskCard {
	flagged, samples := partitionConvs(byConv, convAborted)
	ratio := float64(flagged) / float64(len(byConv))
	if ratio <= a.AbortRatioThreshold {
		return nil
	}
	return a.buildCard("no successful completion", "Reduce conversation abandonment rate",
		"ended without a successful completion", ratio, a.AbortRatioThreshold, flagged, len(byConv), samples,
		"Sample abandoned conversation transcripts to find the step where users disengage and address the friction there.")
}

func (a *UXIssueAnalyzer) analyzeWaits(byConv map[string][]event.Event) *taskcard.TaskCard {
	flagged, samples := partitionConvs(byConv, convHasLongWait)
	ratio := float64(flagged) / float64(len(byConv))
	if ratio <= a.WaitRatioThreshold {
		return nil
	}
	return a.buildCard("long wait", "Reduce conversations with long waits",
		fmt.Sprintf("contained at least one step waiting over %.0fs", waitThresholdMs/1000), ratio, a.WaitRatioThreshold, flagged, len(byConv), samples,
		"Profile the steps users wait longest on and parallelize or stream partial results where possible.")
}

func (a *UXIssueAnalyzer) analyzeErrorRatio(byConv map[string][]event.Event) *taskcard.TaskCard {
	flagged, samples := partitionConvs(byConv, convHighErrorRatio)
	ratio := float64(flagged) / float64(len(byConv))
	if ratio <= a.ErrorRatioThreshold {
		return nil
	}
	return a.buildCard("high error ratio", "Reduce conversations with a high in-conversation error ratio",
		"had over 30% of its events fail", ratio, a.ErrorRatioThreshold, flagged, len(byConv), samples,
		"Review conversations with repeated failures to find the common root cause and add recovery paths.")
}

func (a *UXIssueAnalyzer) buildCard(kind, title, clause string, ratio, threshold float64, flagged, total int, samples []string, approach string) *taskcard.TaskCard {
	severity := taskcard.SeverityMedium
	if ratio >= threshold*2 {
		severity = taskcard.SeverityHigh
	}
	confidence := clamp(0.5+ratio, 0.5, 0.9)

	evidence := taskcard.Evidence{
		Summary: fmt.Sprintf("%.1f%% of conversations (%d/%d) %s in the current window", ratio*100, flagged, total, clause),
		Metrics: map[string]float64{
			"ratio":              ratio,
			"flagged_count":      float64(flagged),
			"conversation_count": float64(total),
		},
		Samples: samples,
	}

	card, err := taskcard.New(
		taskcard.TypeUXIssue,
		severity,
		title,
		fmt.Sprintf("%.1f%% of conversations %s during the current window, versus a target ratio below %.1f%%.", ratio*100, clause, threshold*100),
		evidence,
		taskcard.SuggestedFix{
			Approach:        approach,
			EstimatedEffort: "medium",
		},
		[]string{fmt.Sprintf("%s ratio returns below threshold for one full window", kind)},
		confidence,
		a.Name(),
		time.Now().UTC(),
	)
	if err != nil {
		return nil
	}
	return &card
}

// partitionConvs counts flagged conversations and collects up to 3 sample
// ids. Conversation ids are visited in sorted order so the result is
// deterministic across runs on identical input despite Go's randomized
// map iteration.
func partitionConvs(byConv map[string][]event.Event, pred func([]event.Event) bool) (int, []string) {
	ids := make([]string, 0, len(byConv))
	for convID := range byConv {
		ids = append(ids, convID)
	}
	sort.Strings(ids)

	flagged := 0
	var samples []string
	for _, convID := range ids {
		if pred(byConv[convID]) {
			flagged++
			if len(samples) < 3 {
				samples = append(samples, convID)
			}
		}
	}
	return flagged, samples
}

// convAborted reports a conversation with no successful completion: every
// event aborted, errored, or otherwise failed to reach an ok/completed
// status.
func convAborted(events []event.Event) bool {
	for _, e := range events {
		if e.Status == "ok" || e.Status == "completed" || e.Status == "success" {
			return false
		}
	}
	return true
}

func convHasLongWait(events []event.Event) bool {
	for _, e := range events {
		if e.ElapsedMs > waitThresholdMs {
			return true
		}
	}
	return false
}

func convHighErrorRatio(events []event.Event) bool {
	if len(events) == 0 {
		return false
	}
	errors := 0
	for _, e := range events {
		if e.Status == "error" {
			errors++
		}
	}
	return float64(errors)/float64(len(events)) > 0.30
}
