package models

import (
	"time"
)

// Status enumerates analysis job lifecycle states persisted in Postgres.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Decision is the compliance verdict of a succeeded job.
type Decision string

const (
	DecisionApproved Decision = "APROVADO"
	DecisionRejected Decision = "REPROVADO"
)

// AnalysisJob represents one analysis request persisted in Postgres.
type AnalysisJob struct {
	ID           string         `json:"id"`
	CompanyName  string         `json:"company_name"`
	Status       Status         `json:"status"`
	Decision     *Decision      `json:"decision"`
	ErrorMessage *string        `json:"error_message"`
	ErrorDetails map[string]any `json:"error_details"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FinishedAt   *time.Time     `json:"finished_at"`
}

// JobView is the read-only projection served by the API.
type JobView struct {
	AnalysisJob
	Documents       []Document      `json:"documents"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
