// Package web serves the schedule admin pages and the operational endpoints.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schedadmin/schedadmin/internal/backend"
	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/health"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/router"
	"github.com/schedadmin/schedadmin/internal/session"
	"github.com/schedadmin/schedadmin/internal/sheet"
)

// Backend is the subset of the schedules API the pages use.
type Backend interface {
	Login(ctx context.Context, creds backend.Credentials) (string, error)
	OpenTable(ctx context.Context, token string, cr sheet.Criteria) (*sheet.Snapshot, error)
	ListRows(ctx context.Context, token, table string) ([]sheet.Row, error)
	CreateRow(ctx context.Context, token, table string, values map[string]string) (backend.RowResult, error)
	UpdateRow(ctx context.Context, token, table, id string, values map[string]string) (backend.RowResult, error)
	DeleteRow(ctx context.Context, token, table, id string) error
	ExportTable(ctx context.Context, token, table string) (io.ReadCloser, error)
	ImportTable(ctx context.Context, token, table, filename string, file io.Reader) error
}

// Server is the web UI and metrics server.
type Server struct {
	backend     Backend
	sessions    *session.Store
	nav         *router.Router
	healthCheck *health.Checker
	metrics     *metrics.Collector
	pages       *pageSet
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig

	catalog   atomic.Pointer[sheet.Catalog]
	serverCfg atomic.Pointer[config.ServerConfig]
}

// NewServer creates a new web server. hc and m may be nil.
func NewServer(b Backend, st *session.Store, hc *health.Checker, m *metrics.Collector, cfg *config.Config) *Server {
	s := &Server{
		backend:     b,
		sessions:    st,
		nav:         router.New(),
		healthCheck: hc,
		metrics:     m,
		pages:       mustParsePages(),
		startTime:   time.Now(),
		listenCfg:   cfg.Listen,
	}
	s.Reload(cfg)
	return s
}

// Reload applies the hot-reloadable parts of cfg: the sheet catalog and the
// request handling switches.
func (s *Server) Reload(cfg *config.Config) {
	s.catalog.Store(sheet.NewCatalog(cfg.Sheets))
	sc := cfg.Server
	s.serverCfg.Store(&sc)
}

func (s *Server) cat() *sheet.Catalog { return s.catalog.Load() }

func (s *Server) limits() config.ServerConfig { return *s.serverCfg.Load() }

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	if s.metrics != nil && s.metrics.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	pages := r.NewRoute().Subrouter()
	pages.Use(s.guard)

	pages.HandleFunc(router.Status, s.statusHandler).Methods("GET")
	pages.HandleFunc(router.Login, s.loginPage).Methods("GET")
	pages.HandleFunc(router.Login, s.login).Methods("POST")
	pages.HandleFunc(router.Select, s.selectPage).Methods("GET")
	pages.HandleFunc(router.Select, s.openTable).Methods("POST")
	pages.HandleFunc(router.Table, s.tablePage).Methods("GET")
	pages.HandleFunc("/table/rows/new", s.newRowForm).Methods("GET")
	pages.HandleFunc("/table/rows", s.createRow).Methods("POST")
	pages.HandleFunc("/table/rows/{id}/edit", s.editRowForm).Methods("GET")
	pages.HandleFunc("/table/rows/{id}", s.updateRow).Methods("POST")
	pages.HandleFunc("/table/rows/{id}/delete", s.confirmDelete).Methods("GET")
	pages.HandleFunc("/table/rows/{id}/delete", s.deleteRow).Methods("POST")
	pages.HandleFunc("/table/export", s.exportTable).Methods("GET")
	pages.HandleFunc("/table/import", s.importTable).Methods("POST")
	pages.HandleFunc("/table/refresh", s.refreshRows).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, router.Login, http.StatusSeeOther)
	})

	return s.securityHeaders(r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.listenCfg.Bind, s.listenCfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("web UI listening", "addr", addr, "tls", s.listenCfg.TLSEnabled())

	go func() {
		var err error
		if s.listenCfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.listenCfg.TLSCert, s.listenCfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("web server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	healthy := s.healthCheck.IsHealthy()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":  boolToStatus(healthy),
		"backend": s.healthCheck.GetStatus(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck != nil && s.healthCheck.GetStatus().Status == health.StatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"sessions":       s.sessions.Len(),
		"writes_allowed": s.limits().WritesAllowed(),
		"sheet_types":    s.cat().SheetTypes(),
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
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

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
