package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/antigravity-dev/taskgen/internal/analyzer"
	"github.com/antigravity-dev/taskgen/internal/audit"
	"github.com/antigravity-dev/taskgen/internal/autoapprove"
	"github.com/antigravity-dev/taskgen/internal/broadcast"
	"github.com/antigravity-dev/taskgen/internal/config"
	"github.com/antigravity-dev/taskgen/internal/scheduler"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
	"github.com/antigravity-dev/taskgen/internal/taskstore"
)

type fakeHistory struct{}

func (fakeHistory) ApprovalOutcomes(analyzer string) (int, int) { return 0, 0 }

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	storeDir := t.TempDir()
	st, err := taskstore.Open(storeDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	auditDir := t.TempDir()
	auditW, err := audit.NewWriter(auditDir)
	if err != nil {
		t.Fatal(err)
	}

	cfgMgr := config.NewManager(config.Default())
	reg := analyzer.NewRegistry()
	eventDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	checker := autoapprove.NewChecker(cfgMgr, fakeHistory{})
	sched := scheduler.New(cfgMgr, st, reg, eventDir, nil, checker, auditW, logger)
	templates := taskcard.NewTemplateRegistry()
	hub := broadcast.NewHub(func() ([]taskcard.TaskCard, error) {
		return st.Load(taskcard.Filter{Status: taskcard.StatusGenerated}, 50)
	})

	return New("127.0.0.1:0", cfgMgr, st, sched, templates, hub, checker, auditW, logger)
}

func TestHandleHealth(t *testing.T) {
	srv := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if _, ok := resp["healthy"]; !ok {
		t.Fatal("missing healthy field")
	}
}

func TestHandleListEmpty(t *testing.T) {
	srv := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	w := httptest.NewRecorder()
	srv.routeTasksRoot(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var tasks []taskcard.TaskCard
	json.NewDecoder(w.Body).Decode(&tasks)
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestHandleFromTemplateAndApprove(t *testing.T) {
	srv := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"variables": map[string]string{"name": "read_file", "count": "12"},
	})
	req := httptest.NewRequest(http.MethodPost, "/tasks/from-template/docs-gap-default", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleFromTemplate(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created taskcard.TaskCard
	json.NewDecoder(w.Body).Decode(&created)
	if created.Status != taskcard.StatusGenerated {
		t.Fatalf("expected generated status, got %s", created.Status)
	}

	approveReq := httptest.NewRequest(http.MethodPost, "/tasks/"+created.ID+"/approve", nil)
	approveW := httptest.NewRecorder()
	srv.routeTaskDetail(approveW, approveReq)

	if approveW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", approveW.Code, approveW.Body.String())
	}
	var approved taskcard.TaskCard
	json.NewDecoder(approveW.Body).Decode(&approved)
	if approved.Status != taskcard.StatusApproved {
		t.Fatalf("expected approved status, got %s", approved.Status)
	}
}

func TestHandleGetMissingTaskReturns404(t *testing.T) {
	srv := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tasks/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.routeTaskDetail(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleTemplatesList(t *testing.T) {
	srv := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tasks/templates", nil)
	w := httptest.NewRecorder()
	srv.handleTemplates(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var tmpls []taskcard.Template
	json.NewDecoder(w.Body).Decode(&tmpls)
	if len(tmpls) < 5 {
		t.Fatalf("expected at least 5 built-in templates, got %d", len(tmpls))
	}
}

func TestHandleFunnelEmpty(t *testing.T) {
	srv := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tasks/funnel", nil)
	w := httptest.NewRecorder()
	srv.handleFunnel(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
