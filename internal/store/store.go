// Package store persists analysis jobs, their documents, findings and audit
// trail. Store is the Postgres implementation; Memory backs tests and local
// runs without a database.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

var (
	// ErrNotFound is returned when the job does not exist.
	ErrNotFound = errors.New("analysis job not found")
	// ErrNotRunning is returned by terminal writes on a job that is not RUNNING.
	ErrNotRunning = errors.New("analysis job is not running")
)

// NotPendingError is returned by ClaimJob when the job exists but was already
// claimed or finished.
type NotPendingError struct {
	Status models.Status
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("analysis job is %s, not PENDING", e.Status)
}

// NewJob collects what CreateJob inserts.
type NewJob struct {
	ID          string
	CompanyName string
	CreatedAt   time.Time
	Documents   []models.Document
}

// Audit events.
const (
	EventCreated       = "created"
	EventRunning       = "running"
	EventSucceeded     = "succeeded"
	EventFailed        = "failed"
	EventEnqueueFailed = "enqueue_failed"
	EventAbandoned     = "abandoned"
)

// extractionColumns maps a result to the write-once document columns.
func extractionColumns(res models.ExtractionResult) (status models.ExtractionStatus, text *string, data []byte, failure *models.FailureInfo, model *string, err error) {
	if res.Text != "" {
		t := res.Text
		text = &t
	}
	if res.Model != "" {
		m := res.Model
		model = &m
	}
	if !res.Succeeded() {
		f := res.Failure
		if f == nil {
			f = &models.FailureInfo{Kind: "UpstreamError", Message: "no fields extracted"}
		}
		return models.ExtractionFailed, text, nil, f, model, nil
	}
	data, err = res.Payload()
	if err != nil {
		return "", nil, nil, nil, nil, fmt.Errorf("encode extracted data: %w", err)
	}
	return models.ExtractionSucceeded, text, data, nil, model, nil
}
