package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/VCBorges/automatizai-challenge/internal/models"
	"github.com/VCBorges/automatizai-challenge/internal/pdftext"
	"github.com/VCBorges/automatizai-challenge/internal/retry"
	"github.com/VCBorges/automatizai-challenge/internal/telemetry"
)

// ErrNoDocumentsExtracted is matched by the error Run returns when every
// document failed.
var ErrNoDocumentsExtracted = errors.New("no document could be extracted")

// NoDocumentsError carries the per-document failures of a job where nothing
// was extracted.
type NoDocumentsError struct {
	Failures []models.ExtractionResult
}

func (e *NoDocumentsError) Error() string {
	return fmt.Sprintf("%s (%d failed)", ErrNoDocumentsExtracted, len(e.Failures))
}

func (e *NoDocumentsError) Is(target error) bool { return target == ErrNoDocumentsExtracted }

// ContentSource opens stored document content.
type ContentSource interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextReader converts raw PDF bytes to text.
type TextReader interface {
	Text(ctx context.Context, data []byte) (string, error)
}

// ResultWriter persists the write-once extraction result of a document.
type ResultWriter interface {
	SaveExtraction(ctx context.Context, jobID string, result models.ExtractionResult) error
}

// Options tune the orchestrator.
type Options struct {
	CallTimeout  time.Duration
	Retry        retry.Policy
	FanOut       int
	MaxTextChars int
	// Limiter bounds concurrent gateway calls across all jobs of the process.
	Limiter *semaphore.Weighted
}

type Orchestrator struct {
	gateway Gateway
	content ContentSource
	text    TextReader
	results ResultWriter
	opts    Options
	logger  *slog.Logger
}

func NewOrchestrator(gateway Gateway, content ContentSource, text TextReader, results ResultWriter, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.FanOut <= 0 {
		opts.FanOut = 3
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{gateway: gateway, content: content, text: text, results: results, opts: opts, logger: logger}
}

// Run extracts every document of the job in parallel and persists each
// result. It returns the results in document order. When no document was
// extracted the error is a *NoDocumentsError; any other error is a
// persistence fault.
func (o *Orchestrator) Run(ctx context.Context, jobID string, docs []models.Document) ([]models.ExtractionResult, error) {
	results := make([]models.ExtractionResult, len(docs))
	persistCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.FanOut)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic while extracting document %s: %v", doc.ID, r)
				}
			}()
			res := o.process(gctx, jobID, doc)
			if err := o.results.SaveExtraction(persistCtx, jobID, res); err != nil {
				return fmt.Errorf("save extraction for document %s: %w", doc.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return results, &NoDocumentsError{Failures: results}
	}
	return results, nil
}

func (o *Orchestrator) process(ctx context.Context, jobID string, doc models.Document) models.ExtractionResult {
	start := time.Now()
	res := models.ExtractionResult{DocumentID: doc.ID, DocumentType: doc.DocumentType}
	log := o.logger.With("job_id", jobID, "document_id", doc.ID, "document_type", doc.DocumentType)
	defer func() {
		telemetry.ExtractionDuration.WithLabelValues(string(doc.DocumentType)).Observe(time.Since(start).Seconds())
	}()

	fail := func(f *Failure) models.ExtractionResult {
		telemetry.ExtractionFailures.WithLabelValues(string(f.Kind)).Inc()
		log.Warn("extraction.document.failed", "kind", f.Kind, "error", f.Error())
		res.Failure = f.Info()
		res.Fields = nil
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(&Failure{Kind: KindUpstreamTimeout, Message: "job deadline reached before extraction started", Err: err})
	}

	text, err := await(ctx, func(ctx context.Context) (string, error) {
		return o.loadText(ctx, doc)
	})
	if err != nil {
		if ctx.Err() != nil {
			return fail(&Failure{Kind: KindUpstreamTimeout, Message: "job deadline reached while reading the document", Err: err})
		}
		return fail(&Failure{Kind: KindUnreadable, Message: "document text could not be read", Err: err})
	}
	res.Text = text

	cls, err := call(ctx, o, func(cctx context.Context) (Classification, error) {
		return o.gateway.Classify(cctx, doc.DocumentType, text)
	})
	if err != nil {
		return fail(AsFailure(err))
	}
	if !cls.IsMatch {
		return fail(&Failure{
			Kind:         KindTypeMismatch,
			Message:      fmt.Sprintf("document declared as %s was classified as %s", doc.DocumentType, cls.DetectedType),
			DetectedType: cls.DetectedType,
		})
	}

	ext, err := call(ctx, o, func(cctx context.Context) (Extraction, error) {
		return o.gateway.Extract(cctx, doc.DocumentType, text)
	})
	if err != nil {
		return fail(AsFailure(err))
	}
	if ext.Fields == nil || ext.Fields.Type() != doc.DocumentType {
		return fail(&Failure{Kind: KindUpstreamError, Message: "extractor returned fields for another document type"})
	}
	if err := ext.Fields.Validate(); err != nil {
		return fail(&Failure{Kind: KindUpstreamError, Message: "extracted fields failed validation", Err: err})
	}

	res.Fields = ext.Fields
	res.Confidence = ext.Confidence
	res.Evidence = ext.Evidence
	res.Notes = ext.Notes
	res.Model = ext.Model
	log.Info("extraction.document.ok", "confidence", ext.Confidence, "elapsed_ms", time.Since(start).Milliseconds())
	return res
}

func (o *Orchestrator) loadText(ctx context.Context, doc models.Document) (string, error) {
	rc, err := o.content.Open(ctx, doc.ObjectKey)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", doc.ObjectKey, err)
	}
	text, err := o.text.Text(ctx, data)
	if err != nil {
		return "", err
	}
	return pdftext.Truncate(text, o.opts.MaxTextChars), nil
}

// call runs fn with a per-call timeout, retrying transient failures. A
// limiter permit is held until fn really returns, even when its result was
// already abandoned.
func call[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	_, err := retry.Do(ctx, o.opts.Retry, isRetryable, func(ctx context.Context, _ int) error {
		stage := fn
		if o.opts.Limiter != nil {
			if err := o.opts.Limiter.Acquire(ctx, 1); err != nil {
				return AsFailure(err)
			}
			stage = func(ctx context.Context) (T, error) {
				defer o.opts.Limiter.Release(1)
				return fn(ctx)
			}
		}
		cctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
		v, err := await(cctx, stage)
		if err != nil {
			return AsFailure(err)
		}
		out = v
		return nil
	})
	return out, err
}

type outcome[T any] struct {
	val      T
	err      error
	panicked any
}

// await runs fn on its own goroutine and stops waiting once ctx is done.
// A result that arrives later is dropped. A panic in fn is re-raised on the
// caller's goroutine.
func await[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{panicked: r}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
	}()
	select {
	case out := <-done:
		if out.panicked != nil {
			panic(out.panicked)
		}
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
