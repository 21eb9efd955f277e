// Package analysis coordinates the lifecycle of an analysis job: intake,
// claim, extraction, consistency check, decision and terminal write.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/VCBorges/automatizai-challenge/internal/consistency"
	"github.com/VCBorges/automatizai-challenge/internal/decision"
	"github.com/VCBorges/automatizai-challenge/internal/extraction"
	"github.com/VCBorges/automatizai-challenge/internal/models"
	"github.com/VCBorges/automatizai-challenge/internal/storage"
	"github.com/VCBorges/automatizai-challenge/internal/store"
	"github.com/VCBorges/automatizai-challenge/internal/telemetry"
)

// Store is the persistence the coordinator needs.
type Store interface {
	CreateJob(ctx context.Context, j store.NewJob) (models.AnalysisJob, error)
	GetJob(ctx context.Context, id string) (models.AnalysisJob, error)
	GetJobView(ctx context.Context, id string) (models.JobView, error)
	AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error)
	ClaimJob(ctx context.Context, id string) (models.AnalysisJob, error)
	Documents(ctx context.Context, jobID string) ([]models.Document, error)
	CompleteJob(ctx context.Context, id string, d models.Decision, findings []models.Inconsistency) error
	FailJob(ctx context.Context, id, message string, details map[string]any) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
	StalePending(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
	TouchPending(ctx context.Context, id string) error
	FailAbandoned(ctx context.Context, olderThan time.Duration, message string, details map[string]any) ([]string, error)
}

// Enqueuer hands job ids to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Pipeline extracts every document of a job.
type Pipeline interface {
	Run(ctx context.Context, jobID string, docs []models.Document) ([]models.ExtractionResult, error)
}

// Upload is one submitted file.
type Upload struct {
	Type        models.DocumentType `json:"document_type" validate:"required"`
	Filename    string              `json:"filename"`
	ContentType string              `json:"content_type"`
	Data        []byte              `json:"file"`
}

// CreateInput is the intake request.
type CreateInput struct {
	CompanyName string   `json:"company_name" validate:"required,max=255"`
	Documents   []Upload `json:"documents" validate:"required,min=1,max=3,dive"`
}

type Options struct {
	JobDeadline    time.Duration
	MaxUploadBytes int64
}

type Coordinator struct {
	store    Store
	queue    Enqueuer
	objects  storage.ObjectStore
	pipeline Pipeline
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

func NewCoordinator(st Store, q Enqueuer, objects storage.ObjectStore, pipeline Pipeline, opts Options, log *slog.Logger) *Coordinator {
	if opts.JobDeadline <= 0 {
		opts.JobDeadline = 5 * time.Minute
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:    st,
		queue:    q,
		objects:  objects,
		pipeline: pipeline,
		opts:     opts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the request, stores the files, persists the job as
// PENDING and enqueues it. A failed enqueue leaves the job PENDING for the
// stale-pending sweeper.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (models.AnalysisJob, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	if err := c.validate(in); err != nil {
		return models.AnalysisJob{}, err
	}

	jobID := uuid.New().String()
	docs := make([]models.Document, 0, len(in.Documents))
	for _, up := range in.Documents {
		key := storage.ObjectKey(jobID, up.Type, up.Filename)
		obj, err := c.objects.Put(ctx, key, "application/pdf", up.Data)
		if err != nil {
			c.discardObjects(ctx, jobID, docs)
			return models.AnalysisJob{}, fmt.Errorf("store %s: %w", up.Type, err)
		}
		filename := strings.TrimSpace(up.Filename)
		if filename == "" {
			filename = "document.pdf"
		}
		contentType := up.ContentType
		if contentType == "" {
			contentType = "application/pdf"
		}
		docs = append(docs, models.Document{
			ID:             uuid.New().String(),
			DocumentType:   up.Type,
			Filename:       filename,
			ContentType:    contentType,
			SizeBytes:      obj.SizeBytes,
			ChecksumSHA256: obj.ChecksumSHA256,
			ObjectKey:      obj.Key,
		})
		c.log.Info("analysis.document.stored", "job_id", jobID, "document_type", up.Type, "size_bytes", obj.SizeBytes, "object_key", obj.Key)
	}

	job, err := c.store.CreateJob(ctx, store.NewJob{ID: jobID, CompanyName: in.CompanyName, CreatedAt: c.now(), Documents: docs})
	if err != nil {
		c.discardObjects(ctx, jobID, docs)
		return models.AnalysisJob{}, fmt.Errorf("persist job: %w", err)
	}
	telemetry.AnalysesCreated.Inc()
	c.audit(ctx, jobID, store.EventCreated, fmt.Sprintf("%d documents", len(docs)))

	if err := c.queue.Enqueue(ctx, jobID); err != nil {
		c.log.Error("analysis.enqueue.failed", "job_id", jobID, "error", err)
		c.audit(ctx, jobID, store.EventEnqueueFailed, sanitize(err.Error()))
	}
	c.log.Info("analysis.status", "job_id", jobID, "status", job.Status, "company_name", job.CompanyName)
	return job, nil
}

// discardObjects removes files stored for a job that was never persisted.
func (c *Coordinator) discardObjects(ctx context.Context, jobID string, docs []models.Document) {
	ctx = context.WithoutCancel(ctx)
	for _, d := range docs {
		if err := c.objects.Delete(ctx, d.ObjectKey); err != nil {
			c.log.Warn("analysis.object.orphaned", "job_id", jobID, "object_key", d.ObjectKey, "error", err)
		}
	}
}

var (
	inputValidatorOnce sync.Once
	inputValidator     *validator.Validate
)

func createValidator() *validator.Validate {
	inputValidatorOnce.Do(func() {
		inputValidator = validator.New()
		inputValidator.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return inputValidator
}

func (c *Coordinator) validate(in CreateInput) error {
	if err := createValidator().Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return validationFromField(verrs[0])
		}
		return &ValidationError{Message: err.Error()}
	}
	seen := map[models.DocumentType]bool{}
	for _, up := range in.Documents {
		field := strings.ToLower(string(up.Type))
		switch {
		case !up.Type.Valid():
			return &ValidationError{Field: "document_type", Message: fmt.Sprintf("unknown document type %q", up.Type)}
		case seen[up.Type]:
			return &ValidationError{Field: field, Message: "document type submitted more than once"}
		case len(up.Data) == 0:
			return &ValidationError{Field: field, Message: "file is empty"}
		case int64(len(up.Data)) > c.opts.MaxUploadBytes:
			return &ValidationError{Field: field, Message: fmt.Sprintf("file exceeds %d bytes", c.opts.MaxUploadBytes)}
		case http.DetectContentType(up.Data) != "application/pdf":
			return &ValidationError{Field: field, Message: "file is not a PDF"}
		}
		seen[up.Type] = true
	}
	return nil
}

func validationFromField(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		if field == "documents" {
			return &ValidationError{Field: field, Message: "at least one document is required"}
		}
		return &ValidationError{Field: field, Message: "is required"}
	case "min":
		return &ValidationError{Field: field, Message: "at least one document is required"}
	case "max":
		return &ValidationError{Field: field, Message: fmt.Sprintf("must have at most %s items or characters", fe.Param())}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("failed %s validation", fe.Tag())}
	}
}

// Get returns the read projection of a job.
func (c *Coordinator) Get(ctx context.Context, jobID string) (models.JobView, error) {
	view, err := c.store.GetJobView(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return models.JobView{}, ErrNotFound
	}
	return view, err
}

// Audit returns the recorded transitions of a job, oldest first.
func (c *Coordinator) Audit(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	if _, err := c.store.GetJob(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c.store.AuditTrail(ctx, jobID)
}

// Execute claims the job and runs it to a terminal state. It returns nil for
// every handled terminal outcome, ErrNotFound or *AlreadyRunningError when
// there is nothing to do, and other errors only for faults before the claim
// or when the terminal write itself failed.
func (c *Coordinator) Execute(ctx context.Context, jobID string) (err error) {
	job, err := c.store.ClaimJob(ctx, jobID)
	if err != nil {
		var np *store.NotPendingError
		switch {
		case errors.Is(err, store.ErrNotFound):
			return ErrNotFound
		case errors.As(err, &np):
			return &AlreadyRunningError{JobID: jobID, Status: np.Status}
		default:
			return fmt.Errorf("claim job %s: %w", jobID, err)
		}
	}
	start := time.Now()
	log := c.log.With("job_id", jobID)
	log.Info("analysis.status", "status", models.StatusRunning)
	c.audit(ctx, jobID, store.EventRunning, "")

	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis.panic", "panic", r, "stack", string(debug.Stack()))
			err = c.fail(ctx, jobID, errInternal, map[string]any{"detail": sanitize(fmt.Sprint(r))})
		}
	}()
	return c.run(ctx, job, start, log)
}

func (c *Coordinator) run(ctx context.Context, job models.AnalysisJob, start time.Time, log *slog.Logger) error {
	dctx, cancel := context.WithTimeout(ctx, c.opts.JobDeadline)
	defer cancel()

	docs, err := c.store.Documents(dctx, job.ID)
	if err != nil {
		return c.fail(ctx, job.ID, errInternal, map[string]any{"detail": sanitize(err.Error())})
	}

	results, err := c.pipeline.Run(dctx, job.ID, docs)
	if err != nil {
		var none *extraction.NoDocumentsError
		switch {
		case errors.As(err, &none) && errors.Is(dctx.Err(), context.DeadlineExceeded):
			return c.fail(ctx, job.ID, errDeadlineExceeded, map[string]any{"failures": failureDetails(none.Failures)})
		case errors.As(err, &none):
			return c.fail(ctx, job.ID, errExtractionFailed, map[string]any{"failures": failureDetails(none.Failures)})
		default:
			return c.fail(ctx, job.ID, errInternal, map[string]any{"detail": sanitize(err.Error())})
		}
	}

	findings := consistency.Evaluate(results, job.CreatedAt)
	verdict := decision.Decide(findings)
	summary := decision.Summarize(findings)

	if err := c.store.CompleteJob(context.WithoutCancel(ctx), job.ID, verdict, findings); err != nil {
		if errors.Is(err, store.ErrNotRunning) {
			log.Warn("analysis.complete.skipped", "reason", "job no longer running")
			return nil
		}
		log.Error("analysis.complete.failed", "error", err)
		return c.fail(ctx, job.ID, errInternal, map[string]any{"detail": sanitize(err.Error())})
	}

	telemetry.AnalysesCompleted.WithLabelValues(string(verdict)).Inc()
	c.audit(ctx, job.ID, store.EventSucceeded, string(verdict))
	log.Info("analysis.status",
		"status", models.StatusSucceeded,
		"decision", verdict,
		"blockers", summary.Blockers,
		"warnings", summary.Warnings,
		"documents", len(results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// fail writes the FAILED terminal state. It returns an error only when the
// write itself failed, so the delivery is retried.
func (c *Coordinator) fail(ctx context.Context, jobID string, te terminalError, extra map[string]any) error {
	pctx := context.WithoutCancel(ctx)
	err := c.store.FailJob(pctx, jobID, te.message, te.details(extra))
	if errors.Is(err, store.ErrNotRunning) {
		c.log.Warn("analysis.fail.skipped", "job_id", jobID, "error_code", te.code)
		return nil
	}
	if err != nil {
		c.log.Error("analysis.fail.write_failed", "job_id", jobID, "error_code", te.code, "error", err)
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	telemetry.AnalysesFailed.WithLabelValues(te.code).Inc()
	c.audit(pctx, jobID, store.EventFailed, te.code)
	c.log.Warn("analysis.status", "job_id", jobID, "status", models.StatusFailed, "error_code", te.code)
	return nil
}

func failureDetails(results []models.ExtractionResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if r.Failure == nil {
			continue
		}
		out = append(out, map[string]any{
			"document_type": string(r.DocumentType),
			"kind":          r.Failure.Kind,
			"message":       sanitize(r.Failure.Message),
		})
	}
	return out
}

// RequeueStale re-enqueues jobs left PENDING for longer than olderThan, which
// covers enqueue failures at intake.
func (c *Coordinator) RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	ids, err := c.store.StalePending(ctx, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale pending jobs: %w", err)
	}
	requeued := 0
	for _, id := range ids {
		if err := c.queue.Enqueue(ctx, id); err != nil {
			c.log.Error("analysis.requeue.failed", "job_id", id, "error", err)
			continue
		}
		if err := c.store.TouchPending(ctx, id); err != nil {
			c.log.Warn("analysis.requeue.touch_failed", "job_id", id, "error", err)
		}
		requeued++
		c.log.Info("analysis.requeued", "job_id", id)
	}
	return requeued, nil
}

// FailAbandoned fails jobs stuck in RUNNING for longer than olderThan.
func (c *Coordinator) FailAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := c.store.FailAbandoned(ctx, olderThan, errExecutionAbandoned.message, errExecutionAbandoned.details(nil))
	if err != nil {
		return 0, fmt.Errorf("fail abandoned jobs: %w", err)
	}
	for _, id := range ids {
		telemetry.AnalysesFailed.WithLabelValues(CodeExecutionAbandoned).Inc()
		c.audit(ctx, id, store.EventAbandoned, CodeExecutionAbandoned)
		c.log.Warn("analysis.status", "job_id", id, "status", models.StatusFailed, "error_code", CodeExecutionAbandoned)
	}
	return len(ids), nil
}

func (c *Coordinator) audit(ctx context.Context, jobID, event, detail string) {
	if err := c.store.AppendAudit(context.WithoutCancel(ctx), jobID, event, detail); err != nil {
		c.log.Warn("audit append failed", "job_id", jobID, "event", event, "error", err)
	}
}
