package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJob inserts a PENDING job and its documents in one transaction.
func (s *Store) CreateJob(ctx context.Context, j NewJob) (models.AnalysisJob, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	now := j.CreatedAt.UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO analysis_jobs (id, company_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, j.ID, j.CompanyName, models.StatusPending, now); err != nil {
		return models.AnalysisJob{}, fmt.Errorf("insert job: %w", err)
	}

	batch := &pgx.Batch{}
	for _, d := range j.Documents {
		batch.Queue(`
			INSERT INTO documents (id, job_id, document_type, filename, content_type, size_bytes, checksum_sha256, object_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		`, d.ID, j.ID, d.DocumentType, d.Filename, d.ContentType, d.SizeBytes, d.ChecksumSHA256, d.ObjectKey, now)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return models.AnalysisJob{}, fmt.Errorf("insert documents: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.AnalysisJob{}, fmt.Errorf("commit: %w", err)
	}
	return models.AnalysisJob{
		ID:          j.ID,
		CompanyName: j.CompanyName,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

const jobColumns = `id::text, company_name, status, decision, error_message, error_details, created_at, updated_at, finished_at`

func scanJob(row pgx.Row) (models.AnalysisJob, error) {
	var (
		job      models.AnalysisJob
		decision pgtype.Text
		errMsg   pgtype.Text
		details  []byte
	)
	if err := row.Scan(&job.ID, &job.CompanyName, &job.Status, &decision, &errMsg, &details, &job.CreatedAt, &job.UpdatedAt, &job.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AnalysisJob{}, ErrNotFound
		}
		return models.AnalysisJob{}, fmt.Errorf("scan job: %w", err)
	}
	if decision.Valid {
		d := models.Decision(decision.String)
		job.Decision = &d
	}
	job.ErrorMessage = textPtr(errMsg)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &job.ErrorDetails); err != nil {
			return models.AnalysisJob{}, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.AnalysisJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
}

// Documents lists the documents of a job in canonical type order.
func (s *Store) Documents(ctx context.Context, jobID string) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, job_id::text, document_type, filename, content_type, size_bytes, checksum_sha256, object_key,
		       extraction_status, extracted_text, extracted_data, extraction_error, llm_model, created_at, updated_at
		FROM documents WHERE job_id = $1
		ORDER BY array_position(ARRAY['CONTRATO_SOCIAL', 'CARTAO_CNPJ', 'CERTIDAO_NEGATIVA'], document_type)
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			d        models.Document
			status   pgtype.Text
			text     pgtype.Text
			data     []byte
			failure  []byte
			llmModel pgtype.Text
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.DocumentType, &d.Filename, &d.ContentType, &d.SizeBytes, &d.ChecksumSHA256, &d.ObjectKey,
			&status, &text, &data, &failure, &llmModel, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if status.Valid {
			st := models.ExtractionStatus(status.String)
			d.ExtractionStatus = &st
		}
		d.ExtractedText = textPtr(text)
		if len(data) > 0 {
			d.ExtractedData = json.RawMessage(data)
		}
		if len(failure) > 0 {
			var f models.FailureInfo
			if err := json.Unmarshal(failure, &f); err != nil {
				return nil, fmt.Errorf("unmarshal extraction error: %w", err)
			}
			d.ExtractionError = &f
		}
		d.LLMModel = textPtr(llmModel)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Inconsistencies lists the findings of a job in evaluation order.
func (s *Store) Inconsistencies(ctx context.Context, jobID string) ([]models.Inconsistency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, position, code, severity, message, pointers, document_id::text
		FROM inconsistencies WHERE job_id = $1 ORDER BY position
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query inconsistencies: %w", err)
	}
	defer rows.Close()

	out := []models.Inconsistency{}
	for rows.Next() {
		var (
			inc      models.Inconsistency
			pointers []byte
			docID    pgtype.Text
		)
		if err := rows.Scan(&inc.ID, &inc.Position, &inc.Code, &inc.Severity, &inc.Message, &pointers, &docID); err != nil {
			return nil, fmt.Errorf("scan inconsistency: %w", err)
		}
		if err := json.Unmarshal(pointers, &inc.Pointers); err != nil {
			return nil, fmt.Errorf("unmarshal pointers: %w", err)
		}
		inc.DocumentID = textPtr(docID)
		out = append(out, inc)
	}
	return out, rows.Err()
}

// GetJobView assembles the read projection of a job.
func (s *Store) GetJobView(ctx context.Context, id string) (models.JobView, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return models.JobView{}, err
	}
	docs, err := s.Documents(ctx, id)
	if err != nil {
		return models.JobView{}, err
	}
	incs, err := s.Inconsistencies(ctx, id)
	if err != nil {
		return models.JobView{}, err
	}
	return models.JobView{AnalysisJob: job, Documents: docs, Inconsistencies: incs}, nil
}

// ClaimJob moves a PENDING job to RUNNING. Exactly one caller wins.
func (s *Store) ClaimJob(ctx context.Context, id string) (models.AnalysisJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE analysis_jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING `+jobColumns, id, models.StatusRunning, models.StatusPending))
	if !errors.Is(err, ErrNotFound) {
		return job, err
	}
	current, err := s.GetJob(ctx, id)
	if err != nil {
		return models.AnalysisJob{}, err
	}
	return models.AnalysisJob{}, &NotPendingError{Status: current.Status}
}

// SaveExtraction attaches the result to its document once. Later writes for
// the same document are ignored.
func (s *Store) SaveExtraction(ctx context.Context, jobID string, res models.ExtractionResult) error {
	status, text, data, failure, model, err := extractionColumns(res)
	if err != nil {
		return err
	}
	var failureJSON []byte
	if failure != nil {
		if failureJSON, err = json.Marshal(failure); err != nil {
			return fmt.Errorf("encode extraction error: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE documents
		SET extraction_status = $3, extracted_text = $4, extracted_data = $5, extraction_error = $6, llm_model = $7, updated_at = NOW()
		WHERE id = $1 AND job_id = $2 AND extraction_status IS NULL
	`, res.DocumentID, jobID, status, text, data, failureJSON, model)
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return nil
}

// CompleteJob writes the decision and the findings and moves the job to
// SUCCEEDED in one transaction.
func (s *Store) CompleteJob(ctx context.Context, id string, decision models.Decision, findings []models.Inconsistency) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, decision = $3, error_message = NULL, error_details = NULL, updated_at = NOW(), finished_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusSucceeded, decision, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRunning
	}

	batch := &pgx.Batch{}
	for _, f := range findings {
		pointers, err := json.Marshal(f.Pointers)
		if err != nil {
			return fmt.Errorf("encode pointers: %w", err)
		}
		fid := f.ID
		if fid == "" {
			fid = uuid.New().String()
		}
		batch.Queue(`
			INSERT INTO inconsistencies (id, job_id, position, code, severity, message, pointers, document_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, fid, id, f.Position, f.Code, f.Severity, f.Message, pointers, f.DocumentID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert inconsistencies: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FailJob moves a RUNNING job to FAILED.
func (s *Store) FailJob(ctx context.Context, id, message string, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode error details: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, error_message = $3, error_details = $4, updated_at = NOW(), finished_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, models.StatusFailed, message, detailsJSON, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRunning
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

// AuditTrail returns the audit rows of a job, oldest first.
func (s *Store) AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id::text, event, detail, ts FROM audit_logs WHERE job_id = $1 ORDER BY ts, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditLog, error) {
		var a models.AuditLog
		err := row.Scan(&a.JobID, &a.Event, &a.Detail, &a.Recorded)
		return a, err
	})
}

// StalePending returns ids of jobs left PENDING for longer than olderThan.
func (s *Store) StalePending(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text FROM analysis_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at LIMIT $3
	`, models.StatusPending, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("query stale pending: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// TouchPending bumps updated_at of a PENDING job so the sweeper does not
// re-enqueue it again right away.
func (s *Store) TouchPending(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET updated_at = NOW() WHERE id = $1 AND status = $2
	`, id, models.StatusPending)
	return err
}

// FailAbandoned fails jobs stuck in RUNNING for longer than olderThan and
// returns their ids.
func (s *Store) FailAbandoned(ctx context.Context, olderThan time.Duration, message string, details map[string]any) ([]string, error) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode error details: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE analysis_jobs
		SET status = $1, error_message = $2, error_details = $3, updated_at = NOW(), finished_at = NOW()
		WHERE status = $4 AND updated_at < $5
		RETURNING id::text
	`, models.StatusFailed, message, detailsJSON, models.StatusRunning, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("fail abandoned jobs: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
