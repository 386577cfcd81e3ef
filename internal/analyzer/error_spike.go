package analyzer

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// ErrorSpikeAnalyzer flags tool/operation names whose error rate in the
// current window exceeds the 7-day baseline by a configured multiplier.
type ErrorSpikeAnalyzer struct {
	Multiplier float64 // M, default 3
	MinErrors  int     // minimum current errors/hr before judging, default 5
	enabled    bool
}

// NewErrorSpikeAnalyzer builds the analyzer from config thresholds.
func NewErrorSpikeAnalyzer(multiplier float64, enabled bool) *ErrorSpikeAnalyzer {
	return &ErrorSpikeAnalyzer{Multiplier: multiplier, MinErrors: 5, enabled: enabled}
}

func (a *ErrorSpikeAnalyzer) Name() string  { return "error_spike" }
func (a *ErrorSpikeAnalyzer) Enabled() bool { return a.enabled }

// Analyze abstains entirely when no baseline is available yet: there is
// nothing to compare the current rate against.
func (a *ErrorSpikeAnalyzer) Analyze(ctx Context) []taskcard.TaskCard {
	if !ctx.Baselines.ErrorsPerHourValid || ctx.Baselines.ErrorsPerHour <= 0 {
		return nil
	}
	baseline := ctx.Baselines.ErrorsPerHour

	errors := event.Filter(ctx.Events, event.Criterion{Status: "error"})
	byName := event.GroupBy(errors, func(e event.Event) string { return e.Name })

	windowHours := float64(ctx.Window.DurationMs) / (1000 * 60 * 60)
	if windowHours <= 0 {
		windowHours = 1
	}

	var cards []taskcard.TaskCard
	for name, group := range byName {
		rate := float64(len(group)) / windowHours
		if rate < float64(a.MinErrors) {
			continue
		}
		if rate < baseline*a.Multiplier {
			continue
		}
		cards = append(cards, a.buildCard(name, group, rate, baseline))
	}
	return cards
}

func (a *ErrorSpikeAnalyzer) buildCard(name string, group []event.Event, rate, baseline float64) taskcard.TaskCard {
	mObserved := rate / baseline

	severity := taskcard.SeverityMedium
	switch {
	case mObserved >= 5:
		severity = taskcard.SeverityCritical
	case mObserved >= 4.5:
		severity = taskcard.SeverityHigh
	}

	confidence := clamp(0.65+0.1*(mObserved-a.Multiplier), 0, 0.95)

	samples := event.Samples(group, 3)
	sampleIDs := make([]string, 0, len(samples))
	previews := make([]string, 0, len(samples))
	for _, s := range samples {
		sampleIDs = append(sampleIDs, s.ID)
		if s.ResultPreview != "" {
			previews = append(previews, s.ResultPreview)
		}
	}

	evidence := taskcard.Evidence{
		Summary: fmt.Sprintf("%q errored %d times in the current window (rate %.2f/hr vs baseline %.2f/hr)", name, len(group), rate, baseline),
		Details: previews,
		Metrics: map[string]float64{
			"error_count":     float64(len(group)),
			"rate_per_hour":   rate,
			"baseline_per_hr": baseline,
		},
		Samples: sampleIDs,
	}

	card, err := taskcard.New(
		taskcard.TypeErrorSpike,
		severity,
		fmt.Sprintf("Investigate error spike in %s", name),
		fmt.Sprintf("%s has failed %d times during the current window, which is a significant increase over its historical baseline. Identify the common failure mode and address the root cause.", name, len(group)),
		evidence,
		taskcard.SuggestedFix{
			Approach:        fmt.Sprintf("Review recent %s error samples to find a common root cause and add/adjust error handling or retries.", name),
			EstimatedEffort: "medium",
		},
		[]string{fmt.Sprintf("%s error rate returns to baseline for one full window", name)},
		confidence,
		"error_spike",
		time.Now().UTC(),
	)
	if err != nil {
		return taskcard.TaskCard{}
	}
	return card
}
