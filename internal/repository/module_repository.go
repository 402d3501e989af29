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

// ModuleRepository provides database access for modules and their rosters.
type ModuleRepository struct {
	db sqlx.ExtContext
}

// NewModuleRepository creates a new instance of ModuleRepository.
func NewModuleRepository(db *sqlx.DB) *ModuleRepository {
	return &ModuleRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *ModuleRepository) WithTx(tx *sqlx.Tx) *ModuleRepository {
	return &ModuleRepository{db: tx}
}

// Create inserts a new module row.
func (r *ModuleRepository) Create(ctx context.Context, module *models.Module) error {
	if module.ID == "" {
		module.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	module.CreatedAt = now
	module.UpdatedAt = now
	const query = `INSERT INTO modules (id, code, title, academic_year, created_at, updated_at)
	VALUES (:id, :code, :title, :academic_year, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, module); err != nil {
		return fmt.Errorf("create module: %w", err)
	}
	return nil
}

// GetByID returns a module by identifier.
func (r *ModuleRepository) GetByID(ctx context.Context, id string) (*models.Module, error) {
	const query = `SELECT id, code, title, academic_year, created_at, updated_at FROM modules WHERE id = $1 LIMIT 1`
	var module models.Module
	if err := sqlx.GetContext(ctx, r.db, &module, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get module by id: %w", err)
	}
	return &module, nil
}

// GetByCode returns a module by its unique code. Bulk import matches on
// codes.
func (r *ModuleRepository) GetByCode(ctx context.Context, code string) (*models.Module, error) {
	const query = `SELECT id, code, title, academic_year, created_at, updated_at FROM modules WHERE code = $1 LIMIT 1`
	var module models.Module
	if err := sqlx.GetContext(ctx, r.db, &module, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get module by code: %w", err)
	}
	return &module, nil
}

// UpdateTitle refreshes the module title without touching the roster.
func (r *ModuleRepository) UpdateTitle(ctx context.Context, id, title string) error {
	const query = `UPDATE modules SET title = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update module title: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check module update: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns modules matching the filter with total count.
func (r *ModuleRepository) List(ctx context.Context, filter models.ModuleFilter) ([]models.Module, int, error) {
	baseQuery := `FROM modules WHERE 1=1`
	var conditions []string
	var args []interface{}

	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		conditions = append(conditions, fmt.Sprintf("id IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(filter.Codes) > 0 {
		placeholders := make([]string, len(filter.Codes))
		for i, code := range filter.Codes {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, code)
		}
		conditions = append(conditions, fmt.Sprintf("code IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(code) LIKE $%d OR LOWER(title) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
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

	listQuery := fmt.Sprintf("SELECT id, code, title, academic_year, created_at, updated_at %s ORDER BY code ASC LIMIT %d OFFSET %d",
		baseQuery, pageSize, offset)

	var modules []models.Module
	if err := sqlx.SelectContext(ctx, r.db, &modules, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list modules: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count modules: %w", err)
	}

	return modules, total, nil
}

// AddStaffRole appends a (user, role) entry to the module roster. Duplicate
// entries are rejected by the unique constraint.
func (r *ModuleRepository) AddStaffRole(ctx context.Context, entry *models.ModuleStaffRole) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO module_staff_roles (id, module_id, user_id, role, created_at)
	VALUES (:id, :module_id, :user_id, :role, :created_at)
	ON CONFLICT (module_id, user_id, role) DO NOTHING`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		return fmt.Errorf("add staff role: %w", err)
	}
	return nil
}

// RemoveStaffRole deletes one (user, role) roster entry.
func (r *ModuleRepository) RemoveStaffRole(ctx context.Context, moduleID, userID string, role models.ModuleRole) error {
	const query = `DELETE FROM module_staff_roles WHERE module_id = $1 AND user_id = $2 AND role = $3`
	result, err := r.db.ExecContext(ctx, query, moduleID, userID, role)
	if err != nil {
		return fmt.Errorf("remove staff role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check staff role removal: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddExternalExaminer attaches an external examiner to the module.
func (r *ModuleRepository) AddExternalExaminer(ctx context.Context, moduleID, userID string) error {
	const query = `INSERT INTO module_external_examiners (module_id, user_id, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (module_id, user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, moduleID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add external examiner: %w", err)
	}
	return nil
}

// RemoveExternalExaminer detaches an external examiner from the module.
func (r *ModuleRepository) RemoveExternalExaminer(ctx context.Context, moduleID, userID string) error {
	const query = `DELETE FROM module_external_examiners WHERE module_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, moduleID, userID)
	if err != nil {
		return fmt.Errorf("remove external examiner: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check external examiner removal: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetRoster loads the full staff and external examiner snapshot for a module.
func (r *ModuleRepository) GetRoster(ctx context.Context, moduleID string) (*models.ModuleRoster, error) {
	const staffQuery = `SELECT msr.id, msr.module_id, msr.user_id, u.name AS user_name, msr.role, msr.created_at
	FROM module_staff_roles msr
	JOIN users u ON u.id = msr.user_id
	WHERE msr.module_id = $1
	ORDER BY msr.created_at ASC`
	var staff []models.ModuleStaffRole
	if err := sqlx.SelectContext(ctx, r.db, &staff, staffQuery, moduleID); err != nil {
		return nil, fmt.Errorf("load module staff: %w", err)
	}

	const examinerQuery = `SELECT user_id FROM module_external_examiners WHERE module_id = $1 ORDER BY created_at ASC`
	var examiners []string
	if err := sqlx.SelectContext(ctx, r.db, &examiners, examinerQuery, moduleID); err != nil {
		return nil, fmt.Errorf("load module external examiners: %w", err)
	}

	return &models.ModuleRoster{
		ModuleID:          moduleID,
		Staff:             staff,
		ExternalExaminers: examiners,
	}, nil
}

// ModuleIDsForUser returns ids of every module the user can see: roster
// membership, external examiner attachment, or an assessment-level role on
// any of the module's assessments.
func (r *ModuleRepository) ModuleIDsForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT module_id FROM module_staff_roles WHERE user_id = $1
	UNION
	SELECT module_id FROM module_external_examiners WHERE user_id = $1
	UNION
	SELECT a.module_id FROM assessments a
	JOIN assessment_role_assignments ara ON ara.assessment_id = a.id
	WHERE ara.user_id = $1`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("list module ids for user: %w", err)
	}
	return ids, nil
}
