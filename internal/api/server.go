package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/schedadmin/schedadmin/internal/audit"
	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/health"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/panel"
	"github.com/schedadmin/schedadmin/internal/registry"
	"github.com/schedadmin/schedadmin/internal/scheduler"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// recentAuditEntries is how many audit entries the admin page lists.
const recentAuditEntries = 10

// Server serves the admin pages, the JSON API and the metrics endpoint.
type Server struct {
	registry    *registry.Registry
	healthCheck *health.Checker
	metrics     *metrics.Collector
	audit       audit.Store
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
}

// NewServer creates a new API server. m and store may be nil.
func NewServer(reg *registry.Registry, hc *health.Checker, m *metrics.Collector, store audit.Store, lc config.ListenConfig) *Server {
	return &Server{
		registry:    reg,
		healthCheck: hc,
		metrics:     m,
		audit:       store,
		startTime:   time.Now(),
		listenCfg:   lc,
	}
}

// authMiddleware accepts a Bearer API key or HTTP Basic credentials checked
// against the bcrypt hash. Health, readiness and metrics stay open. The
// authenticated user is attached to the request context as the actor.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/ready" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := s.listenCfg.APIKey
		basic := s.listenCfg.BasicAuthEnabled()
		if apiKey == "" && !basic {
			next.ServeHTTP(w, r.WithContext(panel.WithActor(r.Context(), "anonymous")))
			return
		}

		auth := r.Header.Get("Authorization")
		if apiKey != "" && strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1 {
				next.ServeHTTP(w, r.WithContext(panel.WithActor(r.Context(), "api-key")))
				return
			}
		}
		if basic {
			if user, pass, ok := r.BasicAuth(); ok && s.checkAdmin(user, pass) {
				next.ServeHTTP(w, r.WithContext(panel.WithActor(r.Context(), user)))
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="schedadmin", charset="UTF-8"`)
		}
		writeError(w, http.StatusUnauthorized, "unauthorized: invalid or missing credentials")
	})
}

func (s *Server) checkAdmin(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.listenCfg.AdminUser)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.listenCfg.AdminPasswordHash), []byte(pass)) == nil
}

// Handler builds the routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Admin pages
	r.HandleFunc("/", s.indexHandler).Methods("GET")
	r.HandleFunc("/schedulers/{id}", s.pageHandler).Methods("GET")
	r.HandleFunc("/schedulers/{id}/configure", s.configureForm).Methods("POST")
	r.HandleFunc("/schedulers/{id}/toggle", s.toggleForm).Methods("POST")
	r.HandleFunc("/schedulers/{id}/toggle/confirm", s.toggleConfirmForm).Methods("POST")
	r.HandleFunc("/schedulers/{id}/destroy", s.destroyForm).Methods("POST")
	r.HandleFunc("/schedulers/{id}/start-new-group", s.startNewGroupForm).Methods("POST")
	r.HandleFunc("/schedulers/{id}/ws", s.wsHandler).Methods("GET")

	// JSON API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/schedulers", s.listSchedulers).Methods("GET")
	api.HandleFunc("/schedulers/{id}", s.getScheduler).Methods("GET")
	api.HandleFunc("/schedulers/{id}/configure", s.configureScheduler).Methods("POST")
	api.HandleFunc("/schedulers/{id}/toggle", s.toggleScheduler).Methods("POST")
	api.HandleFunc("/schedulers/{id}/destroy", s.destroyThreadGroup).Methods("POST")
	api.HandleFunc("/schedulers/{id}/start-new-group", s.startNewGroup).Methods("POST")
	api.HandleFunc("/schedulers/{id}/audit", s.auditLog).Methods("GET")
	api.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	if s.metrics != nil && s.metrics.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	return s.securityHeaders(s.crossOriginGuard(s.authMiddleware(r)))
}

// Start starts the HTTP server.
func (s *Server) Start(port int) error {
	bind := s.listenCfg.APIBind
	if bind == "" {
		bind = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: websocket connections stay open.
	}

	if s.listenCfg.APIKey == "" && !s.listenCfg.BasicAuthEnabled() {
		slog.Warn("no API key or admin credentials configured, the admin panel is unauthenticated")
	}
	slog.Info("admin server listening", "addr", addr, "tls", s.listenCfg.TLSEnabled())

	go func() {
		var err error
		if s.listenCfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.listenCfg.TLSCert, s.listenCfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":     boolToStatus(allHealthy),
		"schedulers": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	// Ready if at least one scheduler answers or none are configured
	ids := s.registry.List()
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	for _, id := range ids {
		if s.healthCheck.IsHealthy(id) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_schedulers": len(s.registry.List()),
		"audit_enabled":  s.audit != nil,
	})
}

// crossOriginGuard refuses state-changing requests that a browser marks as
// coming from another origin. Clients sending neither Sec-Fetch-Site nor
// Origin pass.
func (s *Server) crossOriginGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		if site := r.Header.Get("Sec-Fetch-Site"); site != "" {
			if site != "same-origin" && site != "none" {
				s.refuseCrossOrigin(w, r, "site", site)
				return
			}
		} else if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || !strings.EqualFold(u.Host, r.Host) {
				s.refuseCrossOrigin(w, r, "origin", origin)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) refuseCrossOrigin(w http.ResponseWriter, r *http.Request, key, value string) {
	slog.Warn("cross-origin request refused", "method", r.Method, "path", r.URL.Path, key, value)
	writeError(w, http.StatusForbidden, "cross-origin request refused")
}

// securityHeaders adds security-related HTTP headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeActionError maps a controller or registry error to a JSON error.
func writeActionError(w http.ResponseWriter, err error) {
	var apiErr *scheduler.APIError
	switch {
	case errors.Is(err, registry.ErrUnknownTarget):
		writeError(w, http.StatusNotFound, "scheduler not found")
	case errors.Is(err, panel.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, panel.ErrActionDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, panel.ErrDeclined):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Message)
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
