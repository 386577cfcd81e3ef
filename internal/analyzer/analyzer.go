// Package analyzer implements the analyzer registry and its five concrete
// detectors. Every analyzer is pure with respect to its Context: no file
// or task-store access, so that two runs on identical input always
// produce identical output.
package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// Window is the {from, to, durationMs} time window an analysis ran over.
type Window struct {
	From       time.Time
	To         time.Time
	DurationMs int64
}

// Baselines bundles the historical aggregates analyzers compare against.
// A zero value for a given field means "baseline unavailable"; analyzers
// must abstain rather than substitute a default.
type Baselines struct {
	ErrorsPerHour      float64
	ErrorsPerHourValid bool

	ContinuationRatio      float64
	ContinuationRatioValid bool

	AvgLatencyMs      float64
	AvgLatencyMsValid bool
}

// DocPredicate reports whether a tool/endpoint name is documented. Supplied
// by the host application.
type DocPredicate func(name string) bool

// Context carries everything an analyzer needs: the event window, the
// derived metrics bundle, and the window metadata. Analyzers may not read
// files or the task store, only what's in Context.
type Context struct {
	Events       []event.Event
	Window       Window
	Baselines    Baselines
	DocPredicate DocPredicate
}

// Analyzer is the uniform contract every detector implements.
type Analyzer interface {
	Name() string
	Enabled() bool
	Analyze(ctx Context) []taskcard.TaskCard
}

// Result captures one analyzer's outcome for registry bookkeeping,
// including failures so the scheduler can report them without the
// registry ever propagating a panic.
type Result struct {
	Analyzer string
	Cards    []taskcard.TaskCard
	Err      error
}

// Registry runs a homogeneous collection of analyzers concurrently and
// isolates failures: one analyzer's panic never prevents another's result
// from being collected.
type Registry struct {
	analyzers []Analyzer
}

// NewRegistry builds a registry from the given analyzers.
func NewRegistry(analyzers ...Analyzer) *Registry {
	return &Registry{analyzers: analyzers}
}

// Run executes every enabled analyzer concurrently, isolates panics as
// per-analyzer error results, and returns the aggregate task list sorted
// by priority along with per-analyzer results for scheduler stats.
func (r *Registry) Run(ctx context.Context, actx Context) ([]taskcard.TaskCard, []Result) {
	results := make([]Result, len(r.analyzers))

	var wg sync.WaitGroup
	for i, a := range r.analyzers {
		if !a.Enabled() {
			results[i] = Result{Analyzer: a.Name()}
			continue
		}
		wg.Add(1)
		go func(i int, a Analyzer) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = Result{Analyzer: a.Name(), Err: fmt.Errorf("analyzer %s panicked: %v", a.Name(), rec)}
				}
			}()
			cards := a.Analyze(actx)
			results[i] = Result{Analyzer: a.Name(), Cards: cards}
		}(i, a)
	}
	wg.Wait()

	var all []taskcard.TaskCard
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		all = append(all, res.Cards...)
	}
	taskcard.Sort(all)
	return all, results
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
