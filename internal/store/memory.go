package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

// Memory is an in-process Store with the same transition guards as the
// Postgres implementation.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*models.AnalysisJob
	docs   map[string][]*models.Document
	incs   map[string][]models.Inconsistency
	audits []models.AuditLog
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs: map[string]*models.AnalysisJob{},
		docs: map[string][]*models.Document{},
		incs: map[string][]models.Inconsistency{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for timestamps and staleness.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateJob(_ context.Context, j NewJob) (models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := j.CreatedAt.UTC()
	job := &models.AnalysisJob{
		ID:          j.ID,
		CompanyName: j.CompanyName,
		Status:      models.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	m.jobs[j.ID] = job
	docs := make([]*models.Document, 0, len(j.Documents))
	for _, d := range j.Documents {
		d := d
		d.JobID = j.ID
		d.CreatedAt, d.UpdatedAt = created, created
		docs = append(docs, &d)
	}
	sort.SliceStable(docs, func(a, b int) bool { return docs[a].DocumentType.Order() < docs[b].DocumentType.Order() })
	m.docs[j.ID] = docs
	return *job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.AnalysisJob{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *Memory) Documents(_ context.Context, jobID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documentsLocked(jobID), nil
}

func (m *Memory) documentsLocked(jobID string) []models.Document {
	out := make([]models.Document, 0, len(m.docs[jobID]))
	for _, d := range m.docs[jobID] {
		out = append(out, *d)
	}
	return out
}

func (m *Memory) GetJobView(_ context.Context, id string) (models.JobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.JobView{}, ErrNotFound
	}
	incs := append([]models.Inconsistency{}, m.incs[id]...)
	return models.JobView{AnalysisJob: cloneJob(job), Documents: m.documentsLocked(id), Inconsistencies: incs}, nil
}

func (m *Memory) ClaimJob(_ context.Context, id string) (models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.AnalysisJob{}, ErrNotFound
	}
	if job.Status != models.StatusPending {
		return models.AnalysisJob{}, &NotPendingError{Status: job.Status}
	}
	job.Status = models.StatusRunning
	job.UpdatedAt = m.now()
	return cloneJob(job), nil
}

func (m *Memory) SaveExtraction(_ context.Context, jobID string, res models.ExtractionResult) error {
	status, text, data, failure, model, err := extractionColumns(res)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs[jobID] {
		if d.ID != res.DocumentID || d.ExtractionStatus != nil {
			continue
		}
		d.ExtractionStatus = &status
		d.ExtractedText = text
		d.ExtractedData = json.RawMessage(data)
		d.ExtractionError = failure
		d.LLMModel = model
		d.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) CompleteJob(_ context.Context, id string, decision models.Decision, findings []models.Inconsistency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusRunning {
		return ErrNotRunning
	}
	now := m.now()
	d := decision
	job.Status = models.StatusSucceeded
	job.Decision = &d
	job.ErrorMessage, job.ErrorDetails = nil, nil
	job.UpdatedAt, job.FinishedAt = now, &now

	stored := make([]models.Inconsistency, 0, len(findings))
	for _, f := range findings {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		stored = append(stored, f)
	}
	m.incs[id] = stored
	return nil
}

func (m *Memory) FailJob(_ context.Context, id, message string, details map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusRunning {
		return ErrNotRunning
	}
	m.failLocked(job, message, details)
	return nil
}

func (m *Memory) failLocked(job *models.AnalysisJob, message string, details map[string]any) {
	now := m.now()
	msg := message
	job.Status = models.StatusFailed
	job.ErrorMessage = &msg
	job.ErrorDetails = details
	job.UpdatedAt, job.FinishedAt = now, &now
}

func (m *Memory) AppendAudit(_ context.Context, jobID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, models.AuditLog{JobID: jobID, Event: event, Detail: detail, Recorded: m.now()})
	return nil
}

func (m *Memory) AuditTrail(_ context.Context, jobID string) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, a := range m.audits {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) StalePending(_ context.Context, olderThan time.Duration, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staleLocked(models.StatusPending, olderThan, limit), nil
}

func (m *Memory) TouchPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && job.Status == models.StatusPending {
		job.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) FailAbandoned(_ context.Context, olderThan time.Duration, message string, details map[string]any) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.staleLocked(models.StatusRunning, olderThan, 0)
	for _, id := range ids {
		m.failLocked(m.jobs[id], message, details)
	}
	return ids, nil
}

func (m *Memory) staleLocked(status models.Status, olderThan time.Duration, limit int) []string {
	cutoff := m.now().Add(-olderThan)
	var stale []*models.AnalysisJob
	for _, job := range m.jobs {
		if job.Status == status && job.UpdatedAt.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	sort.Slice(stale, func(a, b int) bool { return stale[a].UpdatedAt.Before(stale[b].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]string, 0, len(stale))
	for _, job := range stale {
		ids = append(ids, job.ID)
	}
	return ids
}

func cloneJob(j *models.AnalysisJob) models.AnalysisJob {
	out := *j
	if j.ErrorDetails != nil {
		out.ErrorDetails = make(map[string]any, len(j.ErrorDetails))
		for k, v := range j.ErrorDetails {
			out.ErrorDetails[k] = v
		}
	}
	return out
}
