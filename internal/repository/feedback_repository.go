package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/assessflow/amt-api/internal/models"
)

// FeedbackRepository provides database access for feedback records.
type FeedbackRepository struct {
	db sqlx.ExtContext
}

// NewFeedbackRepository creates a new instance of FeedbackRepository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create appends a feedback record.
func (r *FeedbackRepository) Create(ctx context.Context, feedback *models.Feedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assessment_feedback (id, assessment_id, kind, author_id, state, text, created_at)
	VALUES (:id, :assessment_id, :kind, :author_id, :state, :text, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, feedback); err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// ListByAssessment returns all feedback on an assessment, oldest first.
func (r *FeedbackRepository) ListByAssessment(ctx context.Context, assessmentID string) ([]models.Feedback, error) {
	const query = `SELECT f.id, f.assessment_id, f.kind, f.author_id, u.name AS author_name, f.state, f.text, f.created_at
	FROM assessment_feedback f
	JOIN users u ON u.id = f.author_id
	WHERE f.assessment_id = $1
	ORDER BY f.created_at ASC`
	var feedback []models.Feedback
	if err := sqlx.SelectContext(ctx, r.db, &feedback, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return feedback, nil
}
