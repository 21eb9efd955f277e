package analysis

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

// ErrNotFound is returned when the analysis job does not exist.
var ErrNotFound = errors.New("analysis job not found")

// ValidationError rejects a create request before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AlreadyRunningError reports a delivery for a job that was already claimed
// or finished. It is a no-op for the caller.
type AlreadyRunningError struct {
	JobID  string
	Status models.Status
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("analysis job %s is already %s", e.JobID, e.Status)
}

// Terminal error codes stored in error_details.error_code.
const (
	CodeExtractionFailed   = "extraction_failed"
	CodeDeadlineExceeded   = "deadline_exceeded"
	CodeInternalError      = "internal_error"
	CodeExecutionAbandoned = "execution_abandoned"
)

type terminalError struct {
	errorType string
	code      string
	message   string
}

var (
	errExtractionFailed   = terminalError{"ExtractionFailed", CodeExtractionFailed, "No document could be extracted"}
	errDeadlineExceeded   = terminalError{"DeadlineExceeded", CodeDeadlineExceeded, "Analysis deadline exceeded"}
	errInternal           = terminalError{"InternalError", CodeInternalError, "Internal error during analysis"}
	errExecutionAbandoned = terminalError{"ExecutionAbandoned", CodeExecutionAbandoned, "Analysis abandoned by worker"}
)

func (t terminalError) details(extra map[string]any) map[string]any {
	d := map[string]any{"error_type": t.errorType, "error_code": t.code}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

const maxDetailLength = 500

// sanitize strips control characters, collapses whitespace and caps the
// length of text stored in error details.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxDetailLength {
		return s
	}
	return string([]rune(s)[:maxDetailLength])
}
