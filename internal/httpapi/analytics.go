package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/antigravity-dev/taskgen/internal/autoapprove"
	"github.com/antigravity-dev/taskgen/internal/funnel"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sched := s.sched.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"store":     stats,
		"scheduler": sched,
	})
}

// handleFunnel serves GET /tasks/funnel?daysBack=N, restricting the funnel
// computation to tasks generated within the last daysBack days (default
// 30).
func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	daysBack := 30
	if raw := r.URL.Query().Get("daysBack"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			daysBack = n
		}
	}

	tasks, err := s.store.Load(taskcard.Filter{}, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)
	windowed := tasks[:0:0]
	for _, t := range tasks {
		if !t.GeneratedAt.Before(cutoff) {
			windowed = append(windowed, t)
		}
	}

	writeJSON(w, http.StatusOK, funnel.Analyze(windowed))
}

// handleAutoApprovalStats re-evaluates the current open (generated, not yet
// approved/dismissed) tasks against the auto-approval gates and reports
// the per-gate outcome for each.
func (s *Server) handleAutoApprovalStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tasks, err := s.store.Load(taskcard.Filter{Status: taskcard.StatusGenerated}, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().UTC()
	decisions := make([]autoapprove.Decision, 0, len(tasks))
	eligible := 0
	for _, task := range tasks {
		d := s.checker.Evaluate(task, now)
		decisions = append(decisions, d)
		if d.Eligible {
			eligible++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"evaluated": len(decisions),
		"eligible":  eligible,
		"decisions": decisions,
	})
}
