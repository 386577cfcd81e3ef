// Package scheduler implements the tick-based run loop that periodically
// fans out to the analyzer registry, de-duplicates and rate-limits the
// resulting task cards, and persists survivors to the task store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	"github.com/antigravity-dev/taskgen/internal/analyzer"
	"github.com/antigravity-dev/taskgen/internal/audit"
	"github.com/antigravity-dev/taskgen/internal/autoapprove"
	"github.com/antigravity-dev/taskgen/internal/config"
	"github.com/antigravity-dev/taskgen/internal/event"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

// RunStats summarizes the outcome of a single tick, exposed via
// GET /tasks/scheduler/stats. Skipped is set when the run did not execute
// the pipeline at all ("no_events", "already_running", "disabled").
type RunStats struct {
	StartedAt         time.Time         `json:"startedAt"`
	FinishedAt        time.Time         `json:"finishedAt"`
	DurationMs        int64             `json:"durationMs"`
	EventsLoaded      int               `json:"eventsLoaded"`
	CorruptLines      int               `json:"corruptLines"`
	CardsGenerated    int               `json:"cardsGenerated"`
	CardsDeduped      int               `json:"cardsDeduped"`
	CardsRateLimited  int               `json:"cardsRateLimited"`
	CardsSaved        int               `json:"cardsSaved"`
	CardsAutoApproved int               `json:"cardsAutoApproved"`
	Skipped           string            `json:"skipped,omitempty"`
	AnalyzerErrors    map[string]string `json:"analyzerErrors,omitempty"`
	Error             string            `json:"error,omitempty"`
}

// RunOptions overrides select config values for a single manually triggered
// run (POST /tasks/suggest). Zero values fall back to live config.
type RunOptions struct {
	WindowMin     int
	MinConfidence float64
	MaxTasks      int
}

// Store is the subset of taskstore.Store the scheduler needs, so tests can
// substitute a fake.
type Store interface {
	Load(filter taskcard.Filter, limit int) ([]taskcard.TaskCard, error)
	Save(task taskcard.TaskCard) error
	Approve(id string) (taskcard.TaskCard, error)
}

// Scheduler runs the tick-based generation loop.
type Scheduler struct {
	cfgMgr       *config.Manager
	store        Store
	registry     *analyzer.Registry
	eventDir     string
	docPredicate analyzer.DocPredicate
	autoChecker  *autoapprove.Checker
	auditW       *audit.Writer
	logger       *slog.Logger

	running              atomic.Bool
	window               *hourlyWindow
	autoApprovedThisTick int

	mu             sync.Mutex
	lastRun        RunStats
	runCount       int
	skippedRuns    int
	totalGenerated int
	totalSaved     int
	errorCount     int

	cronSched *cron.Cron
}

// AggregateStats summarizes the scheduler's lifetime behavior, exposed via
// GET /tasks/scheduler/stats.
type AggregateStats struct {
	TotalRuns       int       `json:"totalRuns"`
	SkippedRuns     int       `json:"skippedRuns"`
	TotalGenerated  int       `json:"totalGenerated"`
	TotalSaved      int       `json:"totalSaved"`
	ErrorCount      int       `json:"errorCount"`
	LastRunAt       time.Time `json:"lastRunAt"`
	LastRunDuration int64     `json:"lastRunDurationMs"`
	RateLimitRemain int       `json:"rateLimitRemaining"`
	LastRun         RunStats  `json:"lastRun"`
}

// New builds a Scheduler. docPredicate may be nil (the docs-gap analyzer
// then abstains entirely). autoChecker and auditW may both be nil, in
// which case auto-approval and audit emission are simply skipped.
func New(cfgMgr *config.Manager, store Store, registry *analyzer.Registry, eventDir string, docPredicate analyzer.DocPredicate, autoChecker *autoapprove.Checker, auditW *audit.Writer, logger *slog.Logger) *Scheduler {
	cfg := cfgMgr.Get()
	return &Scheduler{
		cfgMgr:       cfgMgr,
		store:        store,
		registry:     registry,
		eventDir:     eventDir,
		docPredicate: docPredicate,
		autoChecker:  autoChecker,
		auditW:       auditW,
		logger:       logger,
		window:       newHourlyWindow(cfg.MaxPerHour),
	}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
// If TASKGEN_CRON is set, an additional cron schedule also triggers runs;
// either trigger is subject to the same single-flight guard.
func (s *Scheduler) Run(ctx context.Context) {
	cfg := s.cfgMgr.Get()
	interval := time.Duration(cfg.IntervalMin) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s.logger.Info("scheduler started", "interval", interval, "enabled", cfg.Enabled)

	if cfg.Cron != "" {
		s.startCron(cfg.Cron)
		defer s.stopCron()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.RunNow(ctx)

			newCfg := s.cfgMgr.Get()
			newInterval := time.Duration(newCfg.IntervalMin) * time.Minute
			if newInterval > 0 && newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
				s.logger.Info("scheduler tick interval changed", "interval", interval)
			}
		}
	}
}

func (s *Scheduler) startCron(spec string) {
	c := cron.New()
	if err := c.AddFunc(spec, func() { s.RunNow(context.Background()) }); err != nil {
		s.logger.Error("scheduler: invalid cron expression, ignoring", "cron", spec, "error", err)
		return
	}
	c.Start()
	s.cronSched = c
}

func (s *Scheduler) stopCron() {
	if s.cronSched != nil {
		s.cronSched.Stop()
	}
}

// RunNow executes a single generation tick immediately, guarded by a
// single-flight try-lock so an overlapping manual trigger (POST
// /tasks/scheduler/run) never runs concurrently with the ticker. An
// overlapping call gets a structured "skipped: already_running" result
// rather than blocking.
func (s *Scheduler) RunNow(ctx context.Context) RunStats {
	stats, _ := s.runGuarded(ctx, RunOptions{})
	return stats
}

// Suggest runs the generation pipeline once with per-call overrides and
// returns the cards it persisted, backing POST /tasks/suggest. Subject to
// the same single-flight and rate-limit rules as a timer tick.
func (s *Scheduler) Suggest(ctx context.Context, opts RunOptions) (RunStats, []taskcard.TaskCard) {
	return s.runGuarded(ctx, opts)
}

func (s *Scheduler) runGuarded(ctx context.Context, opts RunOptions) (RunStats, []taskcard.TaskCard) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("scheduler: run already in progress, skipping")
		s.mu.Lock()
		defer s.mu.Unlock()
		s.skippedRuns++
		return RunStats{Skipped: "already_running"}, nil
	}
	defer s.running.Store(false)

	stats, saved := s.tick(ctx, opts)

	s.mu.Lock()
	s.lastRun = stats
	s.runCount++
	s.totalGenerated += stats.CardsGenerated
	s.totalSaved += stats.CardsSaved
	if stats.Error != "" || len(stats.AnalyzerErrors) > 0 {
		s.errorCount++
	}
	s.mu.Unlock()

	return stats, saved
}

// Stats returns the scheduler's lifetime aggregate stats plus the most
// recent run's detail.
func (s *Scheduler) Stats() AggregateStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AggregateStats{
		TotalRuns:       s.runCount,
		SkippedRuns:     s.skippedRuns,
		TotalGenerated:  s.totalGenerated,
		TotalSaved:      s.totalSaved,
		ErrorCount:      s.errorCount,
		LastRunAt:       s.lastRun.FinishedAt,
		LastRunDuration: s.lastRun.DurationMs,
		RateLimitRemain: s.window.Remaining(time.Now().UTC()),
		LastRun:         s.lastRun,
	}
}

func (s *Scheduler) tick(ctx context.Context, opts RunOptions) (RunStats, []taskcard.TaskCard) {
	started := time.Now().UTC()
	stats := RunStats{StartedAt: started}

	cfg := s.cfgMgr.Get()
	if !cfg.Enabled {
		stats.Skipped = "disabled"
		stats.FinishedAt = time.Now().UTC()
		return stats, nil
	}

	if opts.WindowMin > 0 {
		cfg.WindowMin = opts.WindowMin
	}
	if opts.MinConfidence > 0 {
		cfg.MinConfidence = opts.MinConfidence
	}
	if opts.MaxTasks > 0 {
		cfg.MaxTasks = opts.MaxTasks
	}

	s.window.SetLimit(cfg.MaxPerHour)

	windowDuration := time.Duration(cfg.WindowMin) * time.Minute
	loadResult, err := event.Load(s.eventDir, windowDuration)
	if err != nil {
		s.logger.Error("scheduler tick: event load failed", "error", err)
		stats.Error = err.Error()
		stats.FinishedAt = time.Now().UTC()
		return stats, nil
	}
	stats.EventsLoaded = len(loadResult.Events)
	stats.CorruptLines = loadResult.CorruptLines

	if stats.EventsLoaded == 0 {
		stats.Skipped = "no_events"
		stats.FinishedAt = time.Now().UTC()
		stats.DurationMs = stats.FinishedAt.Sub(started).Milliseconds()
		return stats, nil
	}

	actx := analyzer.Context{
		Events: loadResult.Events,
		Window: analyzer.Window{
			From:       started.Add(-windowDuration),
			To:         started,
			DurationMs: windowDuration.Milliseconds(),
		},
		Baselines:    s.baselines(),
		DocPredicate: s.docPredicate,
	}

	cards, results := s.registry.Run(ctx, actx)
	stats.CardsGenerated = len(cards)

	for _, r := range results {
		if r.Err != nil {
			if stats.AnalyzerErrors == nil {
				stats.AnalyzerErrors = make(map[string]string)
			}
			stats.AnalyzerErrors[r.Analyzer] = r.Err.Error()
			s.logger.Warn("scheduler tick: analyzer failed", "analyzer", r.Analyzer, "error", r.Err)
		}
	}

	cards = filterByConfidence(cards, cfg.MinConfidence)

	// Truncate to the per-run cap before dedup and rate limiting: a
	// duplicate inside the top maxTasks costs its slot rather than pulling
	// a lower-priority candidate up from beyond the cut.
	if len(cards) > cfg.MaxTasks {
		cards = cards[:cfg.MaxTasks]
	}

	existingTitles, err := s.activeTitles()
	if err != nil {
		s.logger.Error("scheduler tick: failed to load existing tasks", "error", err)
		stats.Error = err.Error()
		stats.FinishedAt = time.Now().UTC()
		return stats, nil
	}

	var saved []taskcard.TaskCard
	now := time.Now().UTC()
	for _, card := range cards {
		if _, dup := existingTitles[card.Title]; dup {
			stats.CardsDeduped++
			continue
		}
		if !s.window.Allow(now) {
			stats.CardsRateLimited++
			continue
		}
		if err := s.store.Save(card); err != nil {
			s.logger.Error("scheduler tick: failed to save task", "id", card.ID, "error", err)
			continue
		}
		existingTitles[card.Title] = struct{}{}
		saved = append(saved, card)

		s.maybeAutoApprove(card, now)
	}
	stats.CardsSaved = len(saved)
	stats.CardsAutoApproved = s.autoApprovedThisTick
	s.autoApprovedThisTick = 0
	stats.FinishedAt = time.Now().UTC()
	stats.DurationMs = stats.FinishedAt.Sub(started).Milliseconds()

	s.logger.Info("scheduler tick complete",
		"events", stats.EventsLoaded, "generated", stats.CardsGenerated,
		"deduped", stats.CardsDeduped, "rate_limited", stats.CardsRateLimited,
		"saved", stats.CardsSaved, "auto_approved", stats.CardsAutoApproved, "duration_ms", stats.DurationMs)

	if s.auditW != nil {
		s.auditW.Emit(audit.ActionSchedulerRun, "", "", map[string]any{
			"eventsLoaded": stats.EventsLoaded,
			"cardsSaved":   stats.CardsSaved,
		})
	}

	return stats, saved
}

// maybeAutoApprove evaluates card against the six auto-approval gates
// immediately after it is persisted, so an eligible card approves within
// seconds of generation by running synchronously in the same tick that
// generated it. A no-op when autoChecker is nil.
func (s *Scheduler) maybeAutoApprove(card taskcard.TaskCard, now time.Time) {
	if s.autoChecker == nil {
		return
	}
	decision := s.autoChecker.Evaluate(card, now)
	if !decision.Eligible {
		return
	}
	approved, err := s.store.Approve(card.ID)
	if err != nil {
		s.logger.Warn("scheduler: auto-approval eligible but approve failed", "id", card.ID, "error", err)
		return
	}
	s.autoApprovedThisTick++
	if s.auditW != nil {
		s.auditW.Emit(audit.ActionAutoApproved, approved.ID, approved.Analyzer, map[string]any{"gates": decision.Gates})
	}
}

// activeTitles returns the title set of every non-terminal (generated or
// approved) task currently in the store, backing duplicate suppression.
func (s *Scheduler) activeTitles() (map[string]struct{}, error) {
	generated, err := s.store.Load(taskcard.Filter{Status: taskcard.StatusGenerated}, 0)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load generated tasks: %w", err)
	}
	approved, err := s.store.Load(taskcard.Filter{Status: taskcard.StatusApproved}, 0)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load approved tasks: %w", err)
	}

	titles := make(map[string]struct{}, len(generated)+len(approved))
	for _, c := range generated {
		titles[c.Title] = struct{}{}
	}
	for _, c := range approved {
		titles[c.Title] = struct{}{}
	}
	return titles, nil
}

// baselines computes the 7-day historical aggregates analyzers compare
// against. A load failure (e.g. a missing or unreadable log directory) is
// treated as "unavailable" rather than a hard error. Insufficient history
// yields a valid 0 baseline, on which the analyzers abstain as well.
func (s *Scheduler) baselines() analyzer.Baselines {
	var b analyzer.Baselines

	if v, err := event.Baseline(s.eventDir, event.MetricErrorsPerHour, 0); err == nil {
		b.ErrorsPerHour = v
		b.ErrorsPerHourValid = true
	}
	if v, err := event.Baseline(s.eventDir, event.MetricContinuationRatio, 0); err == nil {
		b.ContinuationRatio = v
		b.ContinuationRatioValid = true
	}
	if v, err := event.Baseline(s.eventDir, event.MetricAvgLatencyMs, 0); err == nil {
		b.AvgLatencyMs = v
		b.AvgLatencyMsValid = true
	}
	return b
}

func filterByConfidence(cards []taskcard.TaskCard, minConfidence float64) []taskcard.TaskCard {
	out := cards[:0]
	for _, c := range cards {
		if c.Confidence >= minConfidence {
			out = append(out, c)
		}
	}
	return out
}
