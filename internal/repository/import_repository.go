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

// ImportRepository persists bulk import run records.
type ImportRepository struct {
	db sqlx.ExtContext
}

// NewImportRepository creates a new instance of ImportRepository.
func NewImportRepository(db *sqlx.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// Create inserts a new import job in RUNNING state.
func (r *ImportRepository) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ImportJobRunning
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO import_jobs (id, status, row_count, report, created_by, created_at)
	VALUES (:id, :status, :row_count, :report, :created_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, job); err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

// Finish records the final status and report of a completed run.
func (r *ImportRepository) Finish(ctx context.Context, id string, status models.ImportJobStatus, report models.ImportJobReport) error {
	const query = `UPDATE import_jobs SET status = $2, report = $3, finished_at = $4 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, report, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish import job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check import job update: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByID returns one import job with its stored report.
func (r *ImportRepository) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	const query = `SELECT id, status, row_count, report, created_by, created_at, finished_at
	FROM import_jobs WHERE id = $1 LIMIT 1`
	var job models.ImportJob
	if err := sqlx.GetContext(ctx, r.db, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return &job, nil
}

// List returns recent import jobs, newest first.
func (r *ImportRepository) List(ctx context.Context, limit int) ([]models.ImportJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, status, row_count, report, created_by, created_at, finished_at
	FROM import_jobs ORDER BY created_at DESC LIMIT %d`, limit)
	var jobs []models.ImportJob
	if err := sqlx.SelectContext(ctx, r.db, &jobs, query); err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	return jobs, nil
}
