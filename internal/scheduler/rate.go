package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hourlyWindow tracks timestamps of recent task-generation events and
// answers "how many more can fire in the trailing 60 minutes". A
// golang.org/x/time/rate.Limiter is checked alongside the hard hourly cap;
// it refills at cap-per-hour.
type hourlyWindow struct {
	mu       sync.Mutex
	times    []time.Time
	limiter  *rate.Limiter
	maxPerHr int
}

func newHourlyWindow(maxPerHour int) *hourlyWindow {
	if maxPerHour <= 0 {
		maxPerHour = 1
	}
	// Burst equals the hourly cap, so a single tick may spend the whole
	// budget at once; the refill rate spreads the cap evenly across the hour.
	perSecond := rate.Limit(float64(maxPerHour) / 3600.0)
	return &hourlyWindow{
		limiter:  rate.NewLimiter(perSecond, maxPerHour),
		maxPerHr: maxPerHour,
	}
}

// Remaining returns how many more events the trailing-60-minute window
// will admit right now, pruning timestamps older than an hour first.
func (w *hourlyWindow) Remaining(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	remaining := w.maxPerHr - len(w.times)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Allow records one event if both the sliding window and the token bucket
// have capacity, returning false otherwise.
func (w *hourlyWindow) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	if len(w.times) >= w.maxPerHr {
		return false
	}
	if !w.limiter.AllowN(now, 1) {
		return false
	}
	w.times = append(w.times, now)
	return true
}

func (w *hourlyWindow) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for ; i < len(w.times); i++ {
		if w.times[i].After(cutoff) {
			break
		}
	}
	w.times = w.times[i:]
}

// SetLimit reconfigures the cap after a config reload.
func (w *hourlyWindow) SetLimit(maxPerHour int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if maxPerHour <= 0 {
		maxPerHour = 1
	}
	w.maxPerHr = maxPerHour
	w.limiter.SetLimit(rate.Limit(float64(maxPerHour) / 3600.0))
	w.limiter.SetBurst(maxPerHour)
}
