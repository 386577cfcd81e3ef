package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-dev/taskgen/internal/audit"
	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.templates.List())
	case http.MethodPost:
		var tmpl taskcard.Template
		if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.templates.Create(tmpl); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, tmpl)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTemplateDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/tasks/templates/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tmpl, ok := s.templates.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		writeJSON(w, http.StatusOK, tmpl)
	case http.MethodPut:
		var tmpl taskcard.Template
		if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		tmpl.ID = id
		if err := s.templates.Update(tmpl); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, tmpl)
	case http.MethodDelete:
		if err := s.templates.Delete(id); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleFromTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/tasks/from-template/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	var body struct {
		Variables map[string]string `json:"variables"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	task, err := taskcard.InstantiateFromTemplate(s.templates, id, body.Variables, time.Now().UTC())
	if err != nil {
		if _, ok := err.(*taskcard.ErrUnreplacedVariable); ok {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.store.Save(task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.auditW.Emit(audit.ActionGenerated, task.ID, task.Analyzer, map[string]any{"templateId": id})
	writeJSON(w, http.StatusCreated, task)
}
