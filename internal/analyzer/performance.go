package analyzer

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// PerformanceAnalyzer flags operations whose p95 latency in the current
// window exceeds the historical baseline by a configured multiplier.
type PerformanceAnalyzer struct {
	Multiplier float64
	MinSamples int
	enabled    bool
}

// NewPerformanceAnalyzer builds the analyzer from config thresholds.
func NewPerformanceAnalyzer(multiplier float64, enabled bool) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{Multiplier: multiplier, MinSamples: 20, enabled: enabled}
}

func (a *PerformanceAnalyzer) Name() string  { return "performance_degradation" }
func (a *PerformanceAnalyzer) Enabled() bool { return a.enabled }

func (a *PerformanceAnalyzer) Analyze(ctx Context) []taskcard.TaskCard {
	if !ctx.Baselines.AvgLatencyMsValid || ctx.Baselines.AvgLatencyMs <= 0 {
		return nil
	}

	timed := event.Filter(ctx.Events, event.Criterion{})
	byName := event.GroupBy(timed, func(e event.Event) string { return e.Name })

	baseline := ctx.Baselines.AvgLatencyMs

	var cards []taskcard.TaskCard
	for name, group := range byName {
		if name == "" || len(group) < a.MinSamples {
			continue
		}
		elapsed := func(e event.Event) float64 { return e.ElapsedMs }
		p95 := event.Percentile(group, elapsed, 95)
		ratio := p95 / baseline
		if ratio < a.Multiplier {
			continue
		}

		p50 := event.Percentile(group, elapsed, 50)
		p99 := event.Percentile(group, elapsed, 99)
		var sum float64
		for _, e := range group {
			sum += e.ElapsedMs
		}
		avg := sum / float64(len(group))

		severity := taskcard.SeverityMedium
		switch {
		case ratio >= 2.0:
			severity = taskcard.SeverityCritical
		case ratio >= 1.95:
			severity = taskcard.SeverityHigh
		}
		confidence := clamp(0.55+(ratio-a.Multiplier), 0.55, 0.92)

		bottleneck := topActByCount(group)

		evidence := taskcard.Evidence{
			Summary: fmt.Sprintf("%s p95 latency is %.0fms (%.2fx baseline), bottleneck act %q", name, p95, ratio, bottleneck),
			Metrics: map[string]float64{
				"p50_ms":          p50,
				"p95_ms":          p95,
				"p99_ms":          p99,
				"avg_ms":          avg,
				"baseline_avg_ms": ctx.Baselines.AvgLatencyMs,
				"sample_count":    float64(len(group)),
				"ratio":           ratio,
			},
		}

		card, err := taskcard.New(
			taskcard.TypePerformanceDegradation,
			severity,
			fmt.Sprintf("Investigate latency regression in %s", name),
			fmt.Sprintf("%s is running at %.0fms p95 latency in the current window, well above its historical baseline of %.0fms. Profile the hot path for the regression.", name, p95, ctx.Baselines.AvgLatencyMs),
			evidence,
			taskcard.SuggestedFix{
				Approach:        fmt.Sprintf("Profile %s under representative load and compare against the baseline trace to isolate the regression.", name),
				EstimatedEffort: "medium",
			},
			[]string{fmt.Sprintf("%s p95 latency returns within %.1fx of baseline", name, a.Multiplier)},
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

// topActByCount identifies the bottleneck act: the most frequent act value
// among the slowest quarter of the group, by elapsed_ms.
func topActByCount(group []event.Event) string {
	sorted := append([]event.Event(nil), group...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].ElapsedMs > sorted[j-1].ElapsedMs; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	tailLen := len(sorted) / 4
	if tailLen == 0 {
		tailLen = len(sorted)
	}
	counts := make(map[string]int)
	best := ""
	for _, e := range sorted[:tailLen] {
		counts[e.Act]++
		if counts[e.Act] > counts[best] {
			best = e.Act
		}
	}
	return best
}
