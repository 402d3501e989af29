package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/assessflow/amt-api/internal/models"
)

const assessmentColumns = `id, module_id, title, type, current_state, prior_state, exam_date, description, file_name, file_url, version, created_at, updated_at`

// AssessmentRepository provides database access for assessments, their role
// assignments and transition history.
type AssessmentRepository struct {
	db sqlx.ExtContext
}

// NewAssessmentRepository creates a new instance of AssessmentRepository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *AssessmentRepository) WithTx(tx *sqlx.Tx) *AssessmentRepository {
	return &AssessmentRepository{db: tx}
}

// Create inserts a new assessment in DRAFT with version 1.
func (r *AssessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	if assessment.CurrentState == "" {
		assessment.CurrentState = models.StateDraft
	}
	if assessment.Version == 0 {
		assessment.Version = 1
	}
	now := time.Now().UTC()
	assessment.CreatedAt = now
	assessment.UpdatedAt = now
	const query = `INSERT INTO assessments (id, module_id, title, type, current_state, prior_state, exam_date, description, file_name, file_url, version, created_at, updated_at)
	VALUES (:id, :module_id, :title, :type, :current_state, :prior_state, :exam_date, :description, :file_name, :file_url, :version, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, assessment); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}
	return nil
}

// GetByID returns an assessment by identifier.
func (r *AssessmentRepository) GetByID(ctx context.Context, id string) (*models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE id = $1 LIMIT 1`
	var assessment models.Assessment
	if err := sqlx.GetContext(ctx, r.db, &assessment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get assessment by id: %w", err)
	}
	return &assessment, nil
}

// List returns assessments matching the filter with total count.
func (r *AssessmentRepository) List(ctx context.Context, filter models.AssessmentFilter) ([]models.Assessment, int, error) {
	baseQuery := `FROM assessments WHERE 1=1`
	var conditions []string
	var args []interface{}

	if len(filter.ModuleIDs) > 0 {
		placeholders := make([]string, len(filter.ModuleIDs))
		for i, id := range filter.ModuleIDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		conditions = append(conditions, fmt.Sprintf("module_id IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, state)
		}
		conditions = append(conditions, fmt.Sprintf("current_state IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		assessmentColumns, baseQuery, pageSize, offset)

	var assessments []models.Assessment
	if err := sqlx.SelectContext(ctx, r.db, &assessments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list assessments: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count assessments: %w", err)
	}

	return assessments, total, nil
}

// UpdateState moves the assessment to a new state, guarded by the version the
// caller read. A zero rows-affected result means another writer got there
// first and surfaces as sql.ErrNoRows.
func (r *AssessmentRepository) UpdateState(ctx context.Context, id string, version int64, newState models.AssessmentState, priorState *models.AssessmentState) error {
	const query = `UPDATE assessments
	SET current_state = $3, prior_state = $4, version = version + 1, updated_at = $5
	WHERE id = $1 AND version = $2`
	result, err := r.db.ExecContext(ctx, query, id, version, newState, priorState, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update assessment state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check state update: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateContent replaces the draft payload, guarded by version like state
// writes.
func (r *AssessmentRepository) UpdateContent(ctx context.Context, id string, version int64, content models.AssessmentContent) error {
	const query = `UPDATE assessments
	SET description = $3, file_name = $4, file_url = $5, version = version + 1, updated_at = $6
	WHERE id = $1 AND version = $2`
	result, err := r.db.ExecContext(ctx, query, id, version, content.Description, content.FileName, content.FileURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update assessment content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check content update: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetExamDate records the scheduled exam sitting, guarded by version.
func (r *AssessmentRepository) SetExamDate(ctx context.Context, id string, version int64, examDate time.Time) error {
	const query = `UPDATE assessments
	SET exam_date = $3, version = version + 1, updated_at = $4
	WHERE id = $1 AND version = $2`
	result, err := r.db.ExecContext(ctx, query, id, version, examDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set exam date: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check exam date update: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AssignRole attaches a user to an assessment-level role.
func (r *AssessmentRepository) AssignRole(ctx context.Context, assignment *models.AssessmentRoleAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assessment_role_assignments (id, assessment_id, user_id, role, auto_assigned, created_at)
	VALUES (:id, :assessment_id, :user_id, :role, :auto_assigned, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, assignment); err != nil {
		return fmt.Errorf("assign assessment role: %w", err)
	}
	return nil
}

// RemoveRole detaches a user from an assessment-level role.
func (r *AssessmentRepository) RemoveRole(ctx context.Context, assessmentID, userID string, role models.AssessmentRole) error {
	const query = `DELETE FROM assessment_role_assignments WHERE assessment_id = $1 AND user_id = $2 AND role = $3`
	result, err := r.db.ExecContext(ctx, query, assessmentID, userID, role)
	if err != nil {
		return fmt.Errorf("remove assessment role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check role removal: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRoleAssignments returns every role assignment on an assessment with the
// holders' display names.
func (r *AssessmentRepository) ListRoleAssignments(ctx context.Context, assessmentID string) ([]models.AssessmentRoleAssignment, error) {
	const query = `SELECT ara.id, ara.assessment_id, ara.user_id, u.name AS user_name, ara.role, ara.auto_assigned, ara.created_at
	FROM assessment_role_assignments ara
	JOIN users u ON u.id = ara.user_id
	WHERE ara.assessment_id = $1
	ORDER BY ara.created_at ASC`
	var assignments []models.AssessmentRoleAssignment
	if err := sqlx.SelectContext(ctx, r.db, &assignments, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	return assignments, nil
}

// AppendTransition writes one history entry. History is append-only.
func (r *AssessmentRepository) AppendTransition(ctx context.Context, transition *models.AssessmentTransition) error {
	if transition.ID == "" {
		transition.ID = uuid.NewString()
	}
	if transition.At.IsZero() {
		transition.At = time.Now().UTC()
	}
	const query = `INSERT INTO assessment_transitions (id, assessment_id, from_state, to_state, actor_id, actor_name, note, override, at)
	VALUES (:id, :assessment_id, :from_state, :to_state, :actor_id, :actor_name, :note, :override, :at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, transition); err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// ListTransitions returns an assessment's full history, oldest first.
func (r *AssessmentRepository) ListTransitions(ctx context.Context, assessmentID string) ([]models.AssessmentTransition, error) {
	const query = `SELECT id, assessment_id, from_state, to_state, actor_id, actor_name, note, override, at
	FROM assessment_transitions
	WHERE assessment_id = $1
	ORDER BY at ASC, id ASC`
	var transitions []models.AssessmentTransition
	if err := sqlx.SelectContext(ctx, r.db, &transitions, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return transitions, nil
}

// ListExamsDueForProgress returns approved exams whose sitting date is on or
// before the cutoff, for the automatic move into marking.
func (r *AssessmentRepository) ListExamsDueForProgress(ctx context.Context, cutoff time.Time) ([]models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments
	WHERE type = $1 AND current_state = $2 AND exam_date IS NOT NULL AND exam_date <= $3
	ORDER BY exam_date ASC`
	var assessments []models.Assessment
	if err := sqlx.SelectContext(ctx, r.db, &assessments, query, models.AssessmentTypeExam, models.StateExamApproved, cutoff); err != nil {
		return nil, fmt.Errorf("list due exams: %w", err)
	}
	return assessments, nil
}
