// Package httpapi exposes TaskGen's task store, scheduler, templates, and
// analytics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/antigravity-dev/taskgen/internal/audit"
	"github.com/antigravity-dev/taskgen/internal/autoapprove"
	"github.com/antigravity-dev/taskgen/internal/broadcast"
	"github.com/antigravity-dev/taskgen/internal/config"
	"github.com/antigravity-dev/taskgen/internal/scheduler"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
	"github.com/antigravity-dev/taskgen/internal/taskstore"
)

// Server is the HTTP surface over one TaskGen instance.
type Server struct {
	cfgMgr    *config.Manager
	store     *taskstore.Store
	sched     *scheduler.Scheduler
	templates *taskcard.TemplateRegistry
	hub       *broadcast.Hub
	checker   *autoapprove.Checker
	auditW    *audit.Writer
	logger    *slog.Logger

	bind       string
	startTime  time.Time
	httpServer *http.Server
}

// New builds a Server bound to addr (e.g. ":8088").
func New(addr string, cfgMgr *config.Manager, store *taskstore.Store, sched *scheduler.Scheduler, templates *taskcard.TemplateRegistry, hub *broadcast.Hub, checker *autoapprove.Checker, auditW *audit.Writer, logger *slog.Logger) *Server {
	return &Server{
		cfgMgr:    cfgMgr,
		store:     store,
		sched:     sched,
		templates: templates,
		hub:       hub,
		checker:   checker,
		auditW:    auditW,
		logger:    logger,
		bind:      addr,
		startTime: time.Now(),
	}
}

// Start begins listening and blocks until ctx is cancelled, then drains
// in-flight requests for up to 5s before returning.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/tasks/stream", s.handleStream)
	mux.HandleFunc("/tasks/stats", s.handleStats)
	mux.HandleFunc("/tasks/analytics", s.handleAnalytics)
	mux.HandleFunc("/tasks/funnel", s.handleFunnel)
	mux.HandleFunc("/tasks/suggest", s.handleSuggest)
	mux.HandleFunc("/tasks/cleanup", s.handleCleanup)
	mux.HandleFunc("/tasks/scheduler/stats", s.handleSchedulerStats)
	mux.HandleFunc("/tasks/scheduler/run", s.handleSchedulerRun)
	mux.HandleFunc("/tasks/auto-approval/stats", s.handleAutoApprovalStats)
	mux.HandleFunc("/tasks/batch/approve", s.handleBatchApprove)
	mux.HandleFunc("/tasks/batch/dismiss", s.handleBatchDismiss)
	mux.HandleFunc("/tasks/from-template/", s.handleFromTemplate)
	mux.HandleFunc("/tasks/templates", s.handleTemplates)
	mux.HandleFunc("/tasks/templates/", s.handleTemplateDetail)
	mux.HandleFunc("/tasks/", s.routeTaskDetail)
	mux.HandleFunc("/tasks", s.routeTasksRoot)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        s.bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("http api starting", "bind", s.bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handleConfig renders the live configuration as TOML for operator
// inspection.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	dump, err := s.cfgMgr.Get().Dump()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/toml")
	w.Write([]byte(dump))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy": true,
		"uptimeS": time.Since(s.startTime).Seconds(),
	})
}
