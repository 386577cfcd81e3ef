package analyzer

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// ContinuationAnalyzer flags a rising rate of truncated assistant turns
// (finish_reason == "length").
type ContinuationAnalyzer struct {
	Threshold  float64 // T_cont, default 0.15
	MinSamples int     // minimum assistant turns before judging
	enabled    bool
}

// NewContinuationAnalyzer builds the analyzer from config thresholds.
func NewContinuationAnalyzer(threshold float64, enabled bool) *ContinuationAnalyzer {
	return &ContinuationAnalyzer{Threshold: threshold, MinSamples: 20, enabled: enabled}
}

func (a *ContinuationAnalyzer) Name() string  { return "continuation_issue" }
func (a *ContinuationAnalyzer) Enabled() bool { return a.enabled }

func (a *ContinuationAnalyzer) Analyze(ctx Context) []taskcard.TaskCard {
	assistantTurns := event.Filter(ctx.Events, event.Criterion{Actor: event.ActorAssistant})
	if len(assistantTurns) < a.MinSamples {
		return nil
	}

	truncated := 0
	for _, e := range assistantTurns {
		if e.FinishReason == "length" {
			truncated++
		}
	}
	ratio := float64(truncated) / float64(len(assistantTurns))
	if ratio <= a.Threshold {
		return nil
	}

	severity := taskcard.SeverityMedium
	switch {
	case ratio > 0.30:
		severity = taskcard.SeverityCritical
	case ratio > 0.20:
		severity = taskcard.SeverityHigh
	}
	confidence := clamp(0.70+2*(ratio-a.Threshold), 0, 0.95)

	baseline := 0.0
	if ctx.Baselines.ContinuationRatioValid {
		baseline = ctx.Baselines.ContinuationRatio
	}

	samples := event.Samples(truncatedTurns(assistantTurns), 3)
	sampleIDs := make([]string, 0, len(samples))
	for _, s := range samples {
		sampleIDs = append(sampleIDs, s.ID)
	}

	evidence := taskcard.Evidence{
		Summary: fmt.Sprintf("%.1f%% of assistant turns were truncated by length in the last window (%d/%d)", ratio*100, truncated, len(assistantTurns)),
		Details: []string{
			fmt.Sprintf("observed ratio: %.3f", ratio),
			fmt.Sprintf("baseline ratio: %.3f", baseline),
		},
		Metrics: map[string]float64{
			"continuation_ratio": ratio,
			"baseline_ratio":     baseline,
			"truncated_count":    float64(truncated),
		},
		Samples: sampleIDs,
	}

	card, err := taskcard.New(
		taskcard.TypeContinuationIssue,
		severity,
		"Reduce assistant turn truncation rate",
		fmt.Sprintf("Assistant responses are being cut off by length %.1f%% of the time, up from a baseline of %.1f%%. Investigate whether max-token limits, prompt verbosity, or task scoping need adjustment.", ratio*100, baseline*100),
		evidence,
		taskcard.SuggestedFix{
			Approach:        "Review recent assistant turns that hit the length limit and determine whether output budgets or task decomposition need to change.",
			EstimatedEffort: "medium",
		},
		[]string{"continuation ratio returns below threshold for one full window"},
		confidence,
		a.Name(),
		time.Now().UTC(),
	)
	if err != nil {
		return nil
	}
	return []taskcard.TaskCard{card}
}

func truncatedTurns(events []event.Event) []event.Event {
	out := make([]event.Event, 0)
	for _, e := range events {
		if e.FinishReason == "length" {
			out = append(out, e)
		}
	}
	return out
}
