package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/core"
	"github.com/joseph-ayodele/invoice-audit/internal/export"
)

// HealthFunc reports whether the service's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

type Option func(*Server)

// WithMaxUploadBytes caps the request body of multipart uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// WithProcessTimeout bounds an audit run that outlives its request.
func WithProcessTimeout(d time.Duration) Option {
	return func(s *Server) { s.processTimeout = d }
}

func WithHealth(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

// Server is the HTTP API in front of the audit pipeline.
type Server struct {
	router         chi.Router
	auditor        *core.Auditor
	documents      *core.DocumentService
	exporter       *export.Service
	auth           Authenticator
	health         HealthFunc
	logger         *slog.Logger
	maxUploadBytes int64
	processTimeout time.Duration
}

func NewServer(
	auditor *core.Auditor,
	documents *core.DocumentService,
	exporter *export.Service,
	auth Authenticator,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:         chi.NewRouter(),
		auditor:        auditor,
		documents:      documents,
		exporter:       exporter,
		auth:           auth,
		health:         func(context.Context) error { return nil },
		logger:         logger,
		maxUploadBytes: 32 << 20,
		processTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Drain waits for audits still running after their requests ended. Call it after
// http.Server.Shutdown and before closing the database.
func (s *Server) Drain(ctx context.Context) error {
	if err := s.auditor.Wait(ctx); err != nil {
		s.logger.Warn("audit.drain.incomplete", "error", err)
		return err
	}
	s.logger.Info("audit.drain.done")
	return nil
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.logRequests)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/invoice-audit", s.handleSubmitAudit)
		r.Get("/invoice-audit", s.handleListAudits)
		r.Get("/invoice-audit/export", s.handleExportAudits)
		r.Get("/invoice-audit/{auditID}", s.handleGetAudit)

		r.Post("/contracts/{contractID}/documents", s.handleUploadDocument)
		r.Get("/contracts/{contractID}/documents", s.handleListDocuments)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health(r.Context()); err != nil {
		s.logger.Warn("health.check.failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestID honours an inbound X-Request-ID or mints one.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", common.RequestIDFromContext(r.Context()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	s.writeErrorStatus(w, r, status, common.ErrorCode(err), common.PublicMessage(err), err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	attrs := []any{"status", status, "code", code, "path", r.URL.Path, "request_id", common.RequestIDFromContext(r.Context()), "error", err}
	if status >= http.StatusInternalServerError {
		s.logger.Error("http.request.failed", attrs...)
	} else {
		s.logger.Warn("http.request.failed", attrs...)
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}
