// Package api exposes analysis intake and status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/VCBorges/automatizai-challenge/internal/analysis"
	"github.com/VCBorges/automatizai-challenge/internal/config"
	"github.com/VCBorges/automatizai-challenge/internal/models"
	"github.com/VCBorges/automatizai-challenge/internal/ratelimit"
	"github.com/VCBorges/automatizai-challenge/internal/telemetry"
)

// Analyses is the coordinator surface the HTTP layer needs.
type Analyses interface {
	Create(ctx context.Context, in analysis.CreateInput) (models.AnalysisJob, error)
	Get(ctx context.Context, jobID string) (models.JobView, error)
	Audit(ctx context.Context, jobID string) ([]models.AuditLog, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DeadLetterReader lists dead-lettered job ids.
type DeadLetterReader interface {
	DLQPeek(ctx context.Context, count int64) ([]string, error)
}

// Server wires HTTP handlers for the analysis API.
type Server struct {
	cfg      config.Config
	analyses Analyses
	limiter  ratelimit.Allower
	log      *slog.Logger
	checks   map[string]Pinger
	dlq      DeadLetterReader
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, analyses Analyses, limiter ratelimit.Allower, log *slog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, analyses: analyses, limiter: limiter, log: log}
}

// WithReadiness registers the dependencies checked by GET /v1/ready.
func (s *Server) WithReadiness(checks map[string]Pinger) *Server {
	s.checks = checks
	return s
}

// WithDeadLetters exposes GET /v1/dlq.
func (s *Server) WithDeadLetters(d DeadLetterReader) *Server {
	s.dlq = d
	return s
}

// uploadFields maps multipart file fields to document types.
var uploadFields = []struct {
	field string
	typ   models.DocumentType
}{
	{"contrato_social", models.DocContratoSocial},
	{"cartao_cnpj", models.DocCartaoCNPJ},
	{"certidao_negativa", models.DocCertidaoNegativa},
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Tenant-ID", "X-Request-Id"},
	}).Handler)

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/ready", s.handleReady)
	r.Handle("/metrics", telemetry.Handler())
	if s.dlq != nil {
		r.Get("/v1/dlq", s.handleDLQ)
	}

	r.Route("/v1/analyses", func(r chi.Router) {
		create := http.Handler(http.HandlerFunc(s.handleCreate))
		if s.limiter != nil {
			create = ratelimit.Middleware(s.limiter, rejectRateLimited, s.log)(create)
		}
		r.Method(http.MethodPost, "/", create)
		r.Get("/{job_id}", s.handleGet)
		r.Get("/{job_id}/audit", s.handleAudit)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Route not found", nil)
	})
	return r
}

type createResponse struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	// Room for three files plus the text fields.
	r.Body = http.MaxBytesReader(w, r.Body, 3*s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Expected a multipart/form-data body", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in := analysis.CreateInput{CompanyName: r.FormValue("company_name")}
	for _, f := range uploadFields {
		file, header, err := r.FormFile(f.field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("Could not read %s", f.field), nil)
			return
		}
		up, err := readUpload(file, header, f.typ)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("Could not read %s", f.field), nil)
			return
		}
		in.Documents = append(in.Documents, up)
	}

	job, err := s.analyses.Create(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createResponse{JobID: job.ID, Status: job.Status})
}

func readUpload(file multipart.File, header *multipart.FileHeader, typ models.DocumentType) (analysis.Upload, error) {
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return analysis.Upload{}, err
	}
	return analysis.Upload{
		Type:        typ,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	view, err := s.analyses.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	events, err := s.analyses.Audit(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []models.AuditLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "events": events})
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "job_id")
	parsed, err := uuid.Parse(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_job_id", "job_id must be a UUID", map[string]any{"job_id": id})
		return "", false
	}
	return parsed.String(), true
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.log.Warn("api.ready.failed", "checks", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDLQ returns the oldest dead-lettered job ids.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.dlq.DLQPeek(r.Context(), 100)
	if err != nil {
		s.writeDomainError(w, r, fmt.Errorf("read dlq: %w", err))
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *analysis.ValidationError
	switch {
	case errors.As(err, &verr):
		details := map[string]any{}
		if verr.Field != "" {
			details["field"] = verr.Field
		}
		writeError(w, http.StatusUnprocessableEntity, "validation_error", verr.Error(), details)
	case errors.Is(err, analysis.ErrNotFound):
		writeError(w, http.StatusNotFound, "analysis_job_not_found", "Analysis job not found", nil)
	default:
		s.log.Error("api.request.failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}

func rejectRateLimited(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests", nil)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, code int, errCode, message string, details map[string]any) {
	writeJSON(w, code, errorBody{Error: errorPayload{Code: errCode, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
