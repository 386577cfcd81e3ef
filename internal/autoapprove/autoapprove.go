// Package autoapprove implements the auto-approval eligibility gate: a
// task only auto-approves if it clears every one of six
// independent gates. Any single failing gate blocks approval, and every
// evaluation returns the full gate-by-gate trace; GET
// /tasks/auto-approval/stats re-evaluates the tasks still in generated
// status to explain why each one is not (or would be) auto-approved.
package autoapprove

import (
	"time"

	"github.com/antigravity-dev/taskgen/internal/config"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// HistoryProvider reports the approve-vs-dismiss decisions made over an
// analyzer's past tasks, so gate 4 can require a track record of its
// output actually being approved rather than dismissed.
type HistoryProvider interface {
	// ApprovalOutcomes returns how many of this analyzer's tasks were
	// approved (including those that have since completed) vs dismissed,
	// over all time.
	ApprovalOutcomes(analyzer string) (approved, dismissed int)
}

// GateResult is the outcome of a single eligibility gate.
type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Decision is the full eligibility trace for one task.
type Decision struct {
	TaskID   string       `json:"taskId"`
	Eligible bool         `json:"eligible"`
	Gates    []GateResult `json:"gates"`
}

// bootstrapSampleSize is the minimum historical sample before gate 4 judges
// an analyzer's track record; below it, the analyzer is given the benefit
// of the doubt so a fresh deployment can bootstrap.
const bootstrapSampleSize = 10

// minHistoricalSuccessRate is the approved/(approved+dismissed) ratio an
// analyzer must clear once it has enough history to judge.
const minHistoricalSuccessRate = 0.80

// Checker evaluates auto-approval eligibility against live config, a
// rolling hourly cap, and historical analyzer performance.
type Checker struct {
	cfgMgr  *config.Manager
	history HistoryProvider
	window  *slidingWindow
}

// NewChecker builds a Checker. history may be nil (gate 4 then always
// passes, as if every analyzer were still bootstrapping).
func NewChecker(cfgMgr *config.Manager, history HistoryProvider) *Checker {
	cfg := cfgMgr.Get()
	return &Checker{
		cfgMgr:  cfgMgr,
		history: history,
		window:  newSlidingWindow(cfg.Auto.MaxPerHour),
	}
}

// Evaluate runs all six gates against card and returns the full trace.
// Gate 5 (the hourly cap) is
// stateful: a passing Evaluate call consumes one slot from the rolling
// window, so Evaluate must only be called once per candidate the caller
// intends to actually approve.
func (c *Checker) Evaluate(card taskcard.TaskCard, now time.Time) Decision {
	cfg := c.cfgMgr.Get()
	c.window.SetLimit(cfg.Auto.MaxPerHour)

	gates := []GateResult{
		c.gateFeatureEnabled(cfg),
		c.gateConfidenceFloor(cfg, card),
		c.gateTrustedAnalyzer(cfg, card),
		c.gateHistoricalSuccess(card),
		c.gateHourlyCap(now),
		c.gateTypeAllowed(cfg, card),
	}

	eligible := true
	for _, g := range gates {
		if !g.Passed {
			eligible = false
		}
	}

	// Only consume a window slot when every other gate already passed;
	// an ineligible candidate shouldn't burn hourly budget.
	if eligible {
		c.window.Record(now)
	}

	return Decision{TaskID: card.ID, Eligible: eligible, Gates: gates}
}

func (c *Checker) gateFeatureEnabled(cfg *config.Config) GateResult {
	if cfg.Auto.Enabled {
		return GateResult{Name: "feature_enabled", Passed: true}
	}
	return GateResult{Name: "feature_enabled", Passed: false, Reason: "auto-approval is disabled"}
}

func (c *Checker) gateTrustedAnalyzer(cfg *config.Config, card taskcard.TaskCard) GateResult {
	for _, a := range cfg.Auto.TrustedAnalyzers {
		if a == card.Analyzer {
			return GateResult{Name: "trusted_analyzer", Passed: true}
		}
	}
	return GateResult{Name: "trusted_analyzer", Passed: false, Reason: "analyzer " + card.Analyzer + " is not in the trusted list"}
}

func (c *Checker) gateConfidenceFloor(cfg *config.Config, card taskcard.TaskCard) GateResult {
	if card.Confidence >= cfg.Auto.ConfidenceFloor {
		return GateResult{Name: "confidence_floor", Passed: true}
	}
	return GateResult{Name: "confidence_floor", Passed: false, Reason: "confidence below the configured floor"}
}

func (c *Checker) gateTypeAllowed(cfg *config.Config, card taskcard.TaskCard) GateResult {
	for _, t := range cfg.Auto.AllowedTypes {
		if t == string(card.Type) {
			return GateResult{Name: "type_allowed", Passed: true}
		}
	}
	return GateResult{Name: "type_allowed", Passed: false, Reason: "task type " + string(card.Type) + " is not in the auto-approvable set"}
}

func (c *Checker) gateHistoricalSuccess(card taskcard.TaskCard) GateResult {
	if c.history == nil {
		return GateResult{Name: "historical_success", Passed: true, Reason: "no history provider configured"}
	}
	approved, dismissed := c.history.ApprovalOutcomes(card.Analyzer)
	total := approved + dismissed
	if total < bootstrapSampleSize {
		return GateResult{Name: "historical_success", Passed: true, Reason: "bootstrapping: fewer than 10 historical outcomes"}
	}
	rate := float64(approved) / float64(total)
	if rate >= minHistoricalSuccessRate {
		return GateResult{Name: "historical_success", Passed: true}
	}
	return GateResult{Name: "historical_success", Passed: false, Reason: "analyzer's historical approval rate is below 80%"}
}

func (c *Checker) gateHourlyCap(now time.Time) GateResult {
	if c.window.Remaining(now) > 0 {
		return GateResult{Name: "hourly_cap", Passed: true}
	}
	return GateResult{Name: "hourly_cap", Passed: false, Reason: "hourly auto-approval cap reached"}
}
