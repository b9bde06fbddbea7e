package api

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/schedadmin/schedadmin/internal/audit"
	"github.com/schedadmin/schedadmin/internal/health"
	"github.com/schedadmin/schedadmin/internal/panel"
	"github.com/schedadmin/schedadmin/internal/scheduler"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	panelTmpl   = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/panel.html"))
	confirmTmpl = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/confirm.html"))
)

type pageData struct {
	ID     string
	IDs    []string
	URL    string
	View   panel.ViewModel
	Health health.TargetHealth
	Notice string
	// BannerMS is how long success banners stay visible.
	BannerMS int64

	AuditEnabled bool
	Audit        []audit.Entry

	// Confirmation page
	Prompt string
	Target bool
}

func (s *Server) newPageData(r *http.Request, id string, ctrl *panel.Controller) pageData {
	d := pageData{
		ID:     id,
		IDs:    s.registry.List(),
		View:     ctrl.View(),
		Notice:   r.URL.Query().Get("notice"),
		BannerMS: ctrl.Options().BannerDuration.Milliseconds(),
	}
	if tc, err := s.registry.Target(id); err == nil {
		d.URL = tc.BaseURL + tc.ContextPath
	}
	if s.healthCheck != nil {
		d.Health = s.healthCheck.GetStatus(id)
	}
	return d
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	id := s.registry.Default()
	if id == "" {
		http.Error(w, "no schedulers configured", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, pagePath(id), http.StatusSeeOther)
}

func (s *Server) pageController(w http.ResponseWriter, r *http.Request) (string, *panel.Controller, bool) {
	id := mux.Vars(r)["id"]
	ctrl, err := s.registry.Get(id)
	if err != nil {
		http.Error(w, "scheduler not found", http.StatusNotFound)
		return id, nil, false
	}
	return id, ctrl, true
}

// pageHandler refreshes the panel and renders it. A failed refresh is silent
// and keeps the last rendered view; the health badge reports reachability.
func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.pageController(w, r)
	if !ok {
		return
	}

	if err := ctrl.Refresh(r.Context()); err != nil && !errors.Is(err, panel.ErrSuperseded) {
		slog.Debug("page refresh failed", "target", id, "err", err)
	}

	d := s.newPageData(r, id, ctrl)
	if s.audit != nil {
		d.AuditEnabled = true
		entries, err := s.audit.Recent(r.Context(), id, recentAuditEntries)
		if err != nil {
			slog.Warn("reading audit log failed", "target", id, "err", err)
		}
		d.Audit = entries
	}
	render(w, panelTmpl, d)
}

func (s *Server) configureForm(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.pageController(w, r)
	if !ok {
		return
	}
	err := ctrl.SubmitConfiguration(r.Context(), r.PostFormValue("extraThreadsToConfigure"))
	s.finishForm(w, r, id, err, true)
}

// toggleForm asks for confirmation before the running state changes. An
// unchecked checkbox is absent from the form and means pause.
func (s *Server) toggleForm(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.pageController(w, r)
	if !ok {
		return
	}
	target := r.PostFormValue("toggleScheduler") != ""

	d := s.newPageData(r, id, ctrl)
	d.Prompt = panel.TogglePrompt(target)
	d.Target = target
	render(w, confirmTmpl, d)
}

func (s *Server) toggleConfirmForm(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.pageController(w, r)
	if !ok {
		return
	}
	target, err := strconv.ParseBool(r.PostFormValue("target"))
	if err != nil {
		http.Error(w, "invalid toggle target", http.StatusBadRequest)
		return
	}
	confirmed := r.PostFormValue("decision") == "yes"

	err = ctrl.ToggleRunning(r.Context(), target, panel.Decided(confirmed))
	s.finishForm(w, r, id, err, false)
}

func (s *Server) destroyForm(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.pageController(w, r)
	if !ok {
		return
	}
	s.finishForm(w, r, id, ctrl.DestroyThreadGroup(r.Context()), false)
}

func (s *Server) startNewGroupForm(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := s.pageController(w, r)
	if !ok {
		return
	}
	s.finishForm(w, r, id, ctrl.StartNewThreadGroup(r.Context()), true)
}

// finishForm redirects back to the panel. Scheduler errors of actions with
// an inline error block are already shown there and get no notice.
func (s *Server) finishForm(w http.ResponseWriter, r *http.Request, id string, err error, inline bool) {
	target := pagePath(id)
	var apiErr *scheduler.APIError
	if err != nil && !(inline && errors.As(err, &apiErr)) {
		if msg := noticeFor(err); msg != "" {
			target += "?notice=" + url.QueryEscape(msg)
		}
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func noticeFor(err error) string {
	var apiErr *scheduler.APIError
	switch {
	case err == nil, errors.Is(err, panel.ErrDeclined):
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, panel.ErrBusy), errors.Is(err, panel.ErrActionDisabled):
		msg := err.Error()
		return strings.ToUpper(msg[:1]) + msg[1:]
	default:
		return err.Error()
	}
}

func pagePath(id string) string {
	return "/schedulers/" + url.PathEscape(id)
}

func render(w http.ResponseWriter, t *template.Template, d pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := t.ExecuteTemplate(w, "layout", d); err != nil {
		slog.Error("rendering admin page failed", "err", err)
	}
}
