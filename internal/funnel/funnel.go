// Package funnel implements funnel analytics over the task store:
// classifying every task created within a window into a pipeline
// stage by its latest recorded status, computing stage-to-stage
// conversion rates, and rolling those into a single weighted health score
// with actionable recommendations.
package funnel

import (
	"fmt"
	"math"

	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// Counts tallies how many window tasks reached each stage. The stages are
// cumulative, not mutually exclusive: Approved includes tasks that have
// since progressed to Completed, and Engaged includes every task whose
// latest status left "generated": Approved, Completed, and Dismissed
// alike. Engagement is defined strictly by status transition, not
// read-only observation.
type Counts struct {
	Generated int `json:"generated"`
	Engaged   int `json:"engaged"`
	Approved  int `json:"approved"`
	Completed int `json:"completed"`
	Dismissed int `json:"dismissed"`
}

// ConversionRates expresses stage-to-stage progression as ratios in [0,1].
type ConversionRates struct {
	GeneratedToEngaged float64 `json:"generatedToEngaged"`
	EngagedToApproved  float64 `json:"engagedToApproved"`
	ApprovedToComplete float64 `json:"approvedToComplete"`
}

// Percentages expresses each stage's share of Generated, the funnel
// denominator.
type Percentages struct {
	Engaged   float64 `json:"engaged"`
	Approved  float64 `json:"approved"`
	Completed float64 `json:"completed"`
	Dismissed float64 `json:"dismissed"`
}

// Report bundles counts, percentages, conversion rates, an integer health
// score in [0,100], and plain-language recommendations for the weakest
// conversion.
type Report struct {
	Counts          Counts          `json:"counts"`
	Percentages     Percentages     `json:"percentages"`
	Rates           ConversionRates `json:"rates"`
	HealthScore     int             `json:"healthScore"`
	Recommendations []string        `json:"recommendations"`
}

// Health-score weights: 0.30 for g->e, 0.30 for e->a, 0.40 for a->c.
const (
	weightGeneratedToEngaged = 0.30
	weightEngagedToApproved  = 0.30
	weightApprovedToComplete = 0.40
)

// Analyze computes the funnel report over tasks already restricted to the
// caller's window (the daysBack cutoff is applied by the caller via
// GeneratedAt before this function ever sees the slice).
func Analyze(tasks []taskcard.TaskCard) Report {
	var c Counts
	c.Generated = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case taskcard.StatusCompleted:
			c.Engaged++
			c.Approved++
			c.Completed++
		case taskcard.StatusApproved:
			c.Engaged++
			c.Approved++
		case taskcard.StatusDismissed:
			c.Engaged++
			c.Dismissed++
		}
	}

	pct := Percentages{
		Engaged:   percentOf(c.Engaged, c.Generated),
		Approved:  percentOf(c.Approved, c.Generated),
		Completed: percentOf(c.Completed, c.Generated),
		Dismissed: percentOf(c.Dismissed, c.Generated),
	}

	rates := ConversionRates{
		GeneratedToEngaged: ratio(c.Engaged, c.Generated),
		EngagedToApproved:  ratio(c.Approved, c.Engaged),
		ApprovedToComplete: ratio(c.Completed, c.Approved),
	}

	score := healthScore(rates)

	return Report{
		Counts:          c,
		Percentages:     pct,
		Rates:           rates,
		HealthScore:     score,
		Recommendations: recommendations(rates),
	}
}

// healthScore computes round(100 * (0.30*r_ge + 0.30*r_ea + 0.40*r_ac)),
// each rate clamped to [0,1] before weighting.
func healthScore(r ConversionRates) int {
	ge := clamp01(r.GeneratedToEngaged)
	ea := clamp01(r.EngagedToApproved)
	ac := clamp01(r.ApprovedToComplete)
	raw := 100 * (weightGeneratedToEngaged*ge + weightEngagedToApproved*ea + weightApprovedToComplete*ac)
	// Drop floating-point noise first so an exact half (e.g. 66.5, which the
	// sum above yields as 66.4999...) rounds up as the formula states.
	raw = math.Round(raw*1e6) / 1e6
	return int(math.Round(raw))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func percentOf(numerator, denominator int) float64 {
	return ratio(numerator, denominator) * 100
}

// recommendations names the single weakest conversion, picking one of a
// small fixed set of messages.
func recommendations(r ConversionRates) []string {
	if r.GeneratedToEngaged == 0 && r.EngagedToApproved == 0 && r.ApprovedToComplete == 0 {
		return []string{"no tasks have been generated in this window yet"}
	}

	lowest := "generatedToEngaged"
	lowestValue := r.GeneratedToEngaged
	if r.EngagedToApproved < lowestValue {
		lowest = "engagedToApproved"
		lowestValue = r.EngagedToApproved
	}
	if r.ApprovedToComplete < lowestValue {
		lowest = "approvedToComplete"
		lowestValue = r.ApprovedToComplete
	}

	switch lowest {
	case "generatedToEngaged":
		return []string{fmt.Sprintf("only %.0f%% of generated tasks are ever engaged with; review whether analyzer output is surfaced prominently enough", lowestValue*100)}
	case "engagedToApproved":
		return []string{fmt.Sprintf("only %.0f%% of engaged tasks get approved; consider raising the minimum confidence threshold or tuning analyzer precision", lowestValue*100)}
	default:
		return []string{fmt.Sprintf("only %.0f%% of approved tasks reach completion; check whether suggested fixes are actionable enough to execute directly", lowestValue*100)}
	}
}
