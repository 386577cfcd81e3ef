package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/antigravity-dev/taskgen/internal/audit"
	"github.com/antigravity-dev/taskgen/internal/scheduler"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
	"github.com/antigravity-dev/taskgen/internal/taskstore"
)

func (s *Server) routeTasksRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/tasks" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// routeTaskDetail dispatches /tasks/{id}[/action] once the more specific
// prefixes registered on the mux (templates, batch, scheduler, ...) have
// already claimed their own paths.
func (s *Server) routeTaskDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch parts[1] {
	case "approve":
		s.handleApprove(w, r, id)
	case "dismiss":
		s.handleDismiss(w, r, id)
	case "complete":
		s.handleComplete(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := taskcard.Filter{
		Status: taskcard.Status(q.Get("status")),
		Type:   taskcard.Type(q.Get("type")),
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	tasks, err := s.store.Load(filter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task, err := s.store.Get(id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task, err := s.store.Approve(id)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	s.auditW.Emit(audit.ActionApproved, task.ID, task.Analyzer, nil)
	writeJSON(w, http.StatusOK, task)
}

type dismissRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body dismissRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	task, err := s.store.Dismiss(id, body.Reason)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	s.auditW.Emit(audit.ActionDismissed, task.ID, task.Analyzer, map[string]any{"reason": body.Reason})
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task, err := s.store.Complete(id)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	s.auditW.Emit(audit.ActionCompleted, task.ID, task.Analyzer, nil)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type cleanupRequest struct {
	DaysOld int `json:"daysOld"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	daysOld := 30
	var body cleanupRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	if body.DaysOld > 0 {
		daysOld = body.DaysOld
	}
	removed, err := s.store.Cleanup(daysOld)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.auditW.Emit(audit.ActionCleanup, "", "", map[string]any{"removed": removed, "daysOld": daysOld})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type batchRequest struct {
	TaskIDs []string `json:"taskIds"`
	Reason  string   `json:"reason"`
}

// batchPartition is the {succeeded, failed, notFound} result shape of the
// batch endpoints: every id lands in exactly one bucket, and a partial
// failure never aborts the remaining ids (non-transactional).
type batchPartition struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
	NotFound  []string          `json:"notFound"`
}

// maxBatchSize caps a single batch call.
const maxBatchSize = 100

func newBatchPartition() batchPartition {
	return batchPartition{Failed: make(map[string]string)}
}

func (s *Server) handleBatchApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.TaskIDs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch size exceeds the maximum of 100")
		return
	}

	result := newBatchPartition()
	for _, id := range body.TaskIDs {
		task, err := s.store.Approve(id)
		if err != nil {
			if _, ok := err.(*taskstore.NotFound); ok {
				result.NotFound = append(result.NotFound, id)
			} else {
				result.Failed[id] = err.Error()
			}
			continue
		}
		s.auditW.Emit(audit.ActionApproved, task.ID, task.Analyzer, map[string]any{"batch": true})
		result.Succeeded = append(result.Succeeded, id)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBatchDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.TaskIDs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch size exceeds the maximum of 100")
		return
	}

	result := newBatchPartition()
	for _, id := range body.TaskIDs {
		task, err := s.store.Dismiss(id, body.Reason)
		if err != nil {
			if _, ok := err.(*taskstore.NotFound); ok {
				result.NotFound = append(result.NotFound, id)
			} else {
				result.Failed[id] = err.Error()
			}
			continue
		}
		s.auditW.Emit(audit.ActionDismissed, task.ID, task.Analyzer, map[string]any{"batch": true, "reason": body.Reason})
		result.Succeeded = append(result.Succeeded, id)
	}
	writeJSON(w, http.StatusOK, result)
}

type suggestRequest struct {
	WindowMinutes int     `json:"windowMinutes"`
	MinConfidence float64 `json:"minConfidence"`
	MaxTasks      int     `json:"maxTasks"`
}

// handleSuggest runs the generation pipeline immediately with the caller's
// overrides and returns both the persisted tasks and the run stats.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body suggestRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	stats, tasks := s.sched.Suggest(r.Context(), scheduler.RunOptions{
		WindowMin:     body.WindowMinutes,
		MinConfidence: body.MinConfidence,
		MaxTasks:      body.MaxTasks,
	})
	if tasks == nil {
		tasks = []taskcard.TaskCard{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"stats": stats,
	})
}

func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats := s.sched.RunNow(r.Context())
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Stats())
}

func writeNotFoundOr500(w http.ResponseWriter, err error) {
	if _, ok := err.(*taskstore.NotFound); ok {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *taskstore.NotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case *taskcard.ConflictError:
		writeError(w, http.StatusConflict, err.Error())
	case *taskcard.ValidationError:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
