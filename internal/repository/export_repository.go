package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/assessflow/amt-api/internal/models"
)

// ExportRepository persists asynchronous export job records.
type ExportRepository struct {
	db sqlx.ExtContext
}

// NewExportRepository creates a new instance of ExportRepository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts a new export job in QUEUED state.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO export_jobs (id, assessment_id, params, status, created_by, created_at)
	VALUES (:id, :assessment_id, :params, :status, :created_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// GetByID returns one export job.
func (r *ExportRepository) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	const query = `SELECT id, assessment_id, params, status, result_url, created_by, created_at, finished_at, error_message
	FROM export_jobs WHERE id = $1 LIMIT 1`
	var job models.ExportJob
	if err := sqlx.GetContext(ctx, r.db, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return &job, nil
}

// MarkProcessing moves a queued job into PROCESSING.
func (r *ExportRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `UPDATE export_jobs SET status = $2 WHERE id = $1 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, id, models.ExportStatusProcessing, models.ExportStatusQueued)
	if err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check export update: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFinished records a successful export and its signed download URL.
func (r *ExportRepository) MarkFinished(ctx context.Context, id, resultURL string) error {
	const query = `UPDATE export_jobs SET status = $2, result_url = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusFinished, resultURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark export finished: %w", err)
	}
	return nil
}

// MarkFailed records a failed export with its error message.
func (r *ExportRepository) MarkFailed(ctx context.Context, id, message string) error {
	const query = `UPDATE export_jobs SET status = $2, error_message = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusFailed, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	return nil
}

// ListByAssessment returns export jobs for one assessment, newest first.
func (r *ExportRepository) ListByAssessment(ctx context.Context, assessmentID string) ([]models.ExportJob, error) {
	const query = `SELECT id, assessment_id, params, status, result_url, created_by, created_at, finished_at, error_message
	FROM export_jobs WHERE assessment_id = $1 ORDER BY created_at DESC`
	var jobs []models.ExportJob
	if err := sqlx.SelectContext(ctx, r.db, &jobs, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	return jobs, nil
}
