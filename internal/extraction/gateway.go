// Package extraction runs the per-document pipeline of a job: load the text,
// check the declared type, extract typed fields and validate their shape.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

// Kind classifies a per-document extraction failure.
type Kind string

const (
	KindUnreadable      Kind = "Unreadable"
	KindTypeMismatch    Kind = "TypeMismatch"
	KindUpstreamTimeout Kind = "UpstreamTimeout"
	KindUpstreamError   Kind = "UpstreamError"
)

// Failure is the typed error returned by the gateway and recorded against a
// document. Only Retryable failures are retried.
type Failure struct {
	Kind         Kind
	Message      string
	DetectedType models.DocumentType
	Retryable    bool
	Err          error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Info is the persisted form of the failure.
func (f *Failure) Info() *models.FailureInfo {
	return &models.FailureInfo{Kind: string(f.Kind), Message: f.Message, DetectedType: f.DetectedType}
}

// AsFailure returns err as a *Failure, wrapping unknown errors as
// non-retryable upstream errors.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindUpstreamTimeout, Message: "extractor call timed out", Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindUpstreamTimeout, Message: "extractor call cancelled", Err: err}
	}
	return &Failure{Kind: KindUpstreamError, Message: "extractor call failed", Err: err}
}

func isRetryable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Retryable
}

// Classification is the answer of the document-type check.
type Classification struct {
	IsMatch      bool                `json:"is_match"`
	ExpectedType models.DocumentType `json:"expected_type"`
	DetectedType models.DocumentType `json:"detected_type"`
	Confidence   float64             `json:"confidence"`
	Evidence     []string            `json:"evidence"`
	Rationale    string              `json:"rationale"`
}

// Extraction is the typed output of one extract call.
type Extraction struct {
	Fields     models.Fields
	Confidence float64
	Evidence   map[string]string
	Notes      []string
	Model      string
}

// Classifier checks that a document's content matches its declared type.
type Classifier interface {
	Classify(ctx context.Context, declared models.DocumentType, text string) (Classification, error)
}

// Extractor turns document text into typed fields.
type Extractor interface {
	Extract(ctx context.Context, docType models.DocumentType, text string) (Extraction, error)
}

// Gateway is the boundary to the external text-understanding service.
type Gateway interface {
	Classifier
	Extractor
}
