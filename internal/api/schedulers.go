package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/schedadmin/schedadmin/internal/audit"
	"github.com/schedadmin/schedadmin/internal/health"
	"github.com/schedadmin/schedadmin/internal/panel"
)

type schedulerResponse struct {
	ID      string               `json:"id"`
	URL     string               `json:"url"`
	View    panel.ViewModel      `json:"view"`
	Health  *health.TargetHealth `json:"health,omitempty"`
	Options panel.Options        `json:"options"`
}

type toggleRequest struct {
	Running *bool `json:"running"`
	Confirm bool  `json:"confirm"`
}

func (s *Server) describe(id string, ctrl *panel.Controller) schedulerResponse {
	resp := schedulerResponse{ID: id, View: ctrl.View(), Options: ctrl.Options()}
	if tc, err := s.registry.Target(id); err == nil {
		resp.URL = tc.BaseURL + tc.ContextPath
	}
	if s.healthCheck != nil {
		h := s.healthCheck.GetStatus(id)
		resp.Health = &h
	}
	return resp
}

// controller resolves the {id} route variable, writing a 404 when unknown.
func (s *Server) controller(w http.ResponseWriter, r *http.Request) (string, *panel.Controller, bool) {
	id := mux.Vars(r)["id"]
	ctrl, err := s.registry.Get(id)
	if err != nil {
		writeActionError(w, err)
		return id, nil, false
	}
	return id, ctrl, true
}

func (s *Server) listSchedulers(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.List()
	result := make([]schedulerResponse, 0, len(ids))
	for _, id := range ids {
		ctrl, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		result = append(result, s.describe(id, ctrl))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getScheduler(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.Refresh(r.Context()); err != nil && !errors.Is(err, panel.ErrSuperseded) {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(id, ctrl))
}

// configureScheduler forwards the request body unchanged as the desired
// extra thread count.
func (s *Server) configureScheduler(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.runAction(w, r, id, ctrl, func(ctx context.Context) error {
		return ctrl.SubmitConfiguration(ctx, string(body))
	})
}

func (s *Server) toggleScheduler(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Running == nil {
		writeError(w, http.StatusBadRequest, "running is required")
		return
	}
	s.runAction(w, r, id, ctrl, func(ctx context.Context) error {
		return ctrl.ToggleRunning(ctx, *req.Running, panel.Decided(req.Confirm))
	})
}

func (s *Server) destroyThreadGroup(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, id, ctrl, ctrl.DestroyThreadGroup)
}

func (s *Server) startNewGroup(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, id, ctrl, ctrl.StartNewThreadGroup)
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, id string, ctrl *panel.Controller, action func(context.Context) error) {
	if err := action(r.Context()); err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(id, ctrl))
}

func (s *Server) auditLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.Get(id); err != nil {
		writeActionError(w, err)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.recentAudit(r.Context(), id, limit)
	if errors.Is(err, audit.ErrDisabled) {
		writeError(w, http.StatusNotFound, "audit log is disabled")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading audit log: "+err.Error())
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) recentAudit(ctx context.Context, id string, limit int) ([]audit.Entry, error) {
	if s.audit == nil {
		return nil, audit.ErrDisabled
	}
	return s.audit.Recent(ctx, id, limit)
}

