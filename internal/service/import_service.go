package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
	"github.com/assessflow/amt-api/internal/repository"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type rowObserver interface {
	ObserveImportRow(status models.RowStatus)
}

// ImportService runs bulk module/assessment imports. Each row commits or
// rolls back on its own: a bad row never poisons its neighbours, and the
// report always comes back, even when every row fails.
type ImportService struct {
	db          *sqlx.DB
	modules     *repository.ModuleRepository
	assessments *repository.AssessmentRepository
	users       *repository.UserRepository
	jobs        *repository.ImportRepository
	audit       auditLogger
	metrics     rowObserver
	maxRows     int
	logger      *zap.Logger
}

// NewImportService constructs the service.
func NewImportService(db *sqlx.DB, modules *repository.ModuleRepository, assessments *repository.AssessmentRepository, users *repository.UserRepository, jobs *repository.ImportRepository, audit auditLogger, metrics rowObserver, maxRows int, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = 500
	}
	return &ImportService{
		db:          db,
		modules:     modules,
		assessments: assessments,
		users:       users,
		jobs:        jobs,
		audit:       audit,
		metrics:     metrics,
		maxRows:     maxRows,
		logger:      logger,
	}
}

// Run executes an import of already-parsed rows and returns the structured
// report. Admin-capable actors only.
func (s *ImportService) Run(ctx context.Context, rows []models.ImportRow, academicYear string, actor *models.JWTClaims) (*models.ImportReport, error) {
	if actor == nil || !actor.IsAdminCapable() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "bulk import requires administrative capability")
	}
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "import contains no rows")
	}
	if len(rows) > s.maxRows {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("import exceeds the %d row limit", s.maxRows))
	}

	job := &models.ImportJob{
		RowCount:  len(rows),
		CreatedBy: actor.UserID,
	}
	if s.jobs != nil {
		if err := s.jobs.Create(ctx, job); err != nil {
			s.logger.Warn("failed to record import job", zap.Error(err))
		}
	}

	report := &models.ImportReport{Rows: make([]models.RowResult, 0, len(rows))}
	for i, row := range rows {
		result := s.processRow(ctx, i, row, academicYear, report)
		report.Rows = append(report.Rows, result)
		if result.Status == models.RowStatusOK {
			report.SuccessCount++
		}
		if s.metrics != nil {
			s.metrics.ObserveImportRow(result.Status)
		}
	}

	s.finishJob(ctx, job, report)
	s.emitAudit(ctx, actor, job.ID, report)
	return report, nil
}

// processRow validates and persists one row inside its own transaction. An
// unresolvable lead fails the row; an unresolvable moderator is skipped with
// a warning and the row carries on.
func (s *ImportService) processRow(ctx context.Context, index int, row models.ImportRow, academicYear string, report *models.ImportReport) models.RowResult {
	result := models.RowResult{Index: index, Status: models.RowStatusOK}
	row.Assessments = pruneAssessments(row.Assessments)

	rowErrors := validateRow(row)
	lead, moderators, resolveErrors, warnings := s.resolvePeople(ctx, row)
	rowErrors = append(rowErrors, resolveErrors...)
	if lead != nil {
		for _, moderator := range moderators {
			if moderator.ID == lead.ID {
				rowErrors = append(rowErrors, fmt.Sprintf("%s cannot be both module lead and moderator", moderator.Name))
			}
		}
	}
	if len(rowErrors) > 0 {
		result.Status = models.RowStatusError
		result.Messages = append(rowErrors, warnings...)
		return result
	}
	result.Messages = warnings

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		result.Status = models.RowStatusError
		result.Messages = append(warnings, "could not start transaction")
		return result
	}
	created, assessmentsMade, err := s.applyRow(ctx, tx, row, academicYear, lead, moderators)
	if err != nil {
		_ = tx.Rollback()
		result.Status = models.RowStatusError
		result.Messages = append(warnings, err.Error())
		return result
	}
	if err := tx.Commit(); err != nil {
		result.Status = models.RowStatusError
		result.Messages = append(warnings, "could not commit row")
		return result
	}

	if created {
		report.ModulesCreated++
	}
	report.AssessmentsMade += assessmentsMade
	return result
}

// pruneAssessments drops entirely blank trailing pairs; ragged exports pad
// rows with them.
func pruneAssessments(specs []models.ImportAssessment) []models.ImportAssessment {
	pruned := specs[:0]
	for _, spec := range specs {
		if strings.TrimSpace(spec.Type) == "" && strings.TrimSpace(spec.Title) == "" {
			continue
		}
		pruned = append(pruned, spec)
	}
	return pruned
}

func validateRow(row models.ImportRow) []string {
	var messages []string
	if strings.TrimSpace(row.ModuleCode) == "" {
		messages = append(messages, "module code is required")
	}
	if strings.TrimSpace(row.ModuleTitle) == "" {
		messages = append(messages, "module title is required")
	}
	if strings.TrimSpace(row.ModuleLeadName) == "" {
		messages = append(messages, "module lead is required")
	}
	for _, assessment := range row.Assessments {
		switch models.AssessmentType(assessment.Type) {
		case models.AssessmentTypeCW, models.AssessmentTypeTest, models.AssessmentTypeExam:
		default:
			messages = append(messages, fmt.Sprintf("unknown assessment type %q", assessment.Type))
		}
		if strings.TrimSpace(assessment.Title) == "" {
			messages = append(messages, "assessment title is required")
		}
	}
	return messages
}

// resolvePeople matches the row's display names against the user directory.
// A lead that does not resolve is an error; a moderator that does not resolve
// is only a warning, the row proceeds without them.
func (s *ImportService) resolvePeople(ctx context.Context, row models.ImportRow) (*models.User, []*models.User, []string, []string) {
	var rowErrors, warnings []string
	var lead *models.User

	if strings.TrimSpace(row.ModuleLeadName) != "" {
		user, err := s.users.FindByName(ctx, row.ModuleLeadName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				rowErrors = append(rowErrors, fmt.Sprintf("module lead %q not found", row.ModuleLeadName))
			} else {
				rowErrors = append(rowErrors, "could not resolve module lead")
			}
		} else {
			lead = user
		}
	}

	moderators := make([]*models.User, 0, len(row.ModeratorNames))
	for _, name := range row.ModeratorNames {
		user, err := s.users.FindByName(ctx, name)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				warnings = append(warnings, fmt.Sprintf("moderator %q not found; skipped", name))
			} else {
				warnings = append(warnings, fmt.Sprintf("could not resolve moderator %q; skipped", name))
			}
			continue
		}
		moderators = append(moderators, user)
	}
	return lead, moderators, rowErrors, warnings
}

func (s *ImportService) applyRow(ctx context.Context, tx *sqlx.Tx, row models.ImportRow, academicYear string, lead *models.User, moderators []*models.User) (bool, int, error) {
	modules := s.modules.WithTx(tx)
	assessments := s.assessments.WithTx(tx)

	created := false
	module, err := modules.GetByCode(ctx, row.ModuleCode)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false, 0, fmt.Errorf("look up module %s", row.ModuleCode)
		}
		module = &models.Module{
			Code:         row.ModuleCode,
			Title:        row.ModuleTitle,
			AcademicYear: academicYear,
		}
		if err := modules.Create(ctx, module); err != nil {
			return false, 0, fmt.Errorf("create module %s", row.ModuleCode)
		}
		created = true
	} else {
		if module.Title != row.ModuleTitle {
			if err := modules.UpdateTitle(ctx, module.ID, row.ModuleTitle); err != nil {
				return false, 0, fmt.Errorf("update module %s title", row.ModuleCode)
			}
		}
		// Re-import replaces the lead: a module has exactly one.
		roster, err := modules.GetRoster(ctx, module.ID)
		if err != nil {
			return false, 0, fmt.Errorf("load roster for %s", row.ModuleCode)
		}
		for _, entry := range roster.Staff {
			if entry.Role == models.ModuleRoleLead && entry.UserID != lead.ID {
				if err := modules.RemoveStaffRole(ctx, module.ID, entry.UserID, models.ModuleRoleLead); err != nil {
					return false, 0, fmt.Errorf("replace module lead on %s", row.ModuleCode)
				}
			}
		}
	}

	if err := modules.AddStaffRole(ctx, &models.ModuleStaffRole{
		ModuleID: module.ID,
		UserID:   lead.ID,
		Role:     models.ModuleRoleLead,
	}); err != nil {
		return false, 0, fmt.Errorf("assign module lead on %s", row.ModuleCode)
	}
	for _, moderator := range moderators {
		if err := modules.AddStaffRole(ctx, &models.ModuleStaffRole{
			ModuleID: module.ID,
			UserID:   moderator.ID,
			Role:     models.ModuleRoleModerator,
		}); err != nil {
			return false, 0, fmt.Errorf("assign moderator on %s", row.ModuleCode)
		}
	}

	autoChecker := firstEligibleChecker(moderators)

	made := 0
	for _, spec := range row.Assessments {
		assessment := &models.Assessment{
			ModuleID: module.ID,
			Title:    spec.Title,
			Type:     models.AssessmentType(spec.Type),
		}
		if err := assessments.Create(ctx, assessment); err != nil {
			return false, 0, fmt.Errorf("create assessment %q on %s", spec.Title, row.ModuleCode)
		}
		made++
		if autoChecker != nil {
			if err := assessments.AssignRole(ctx, &models.AssessmentRoleAssignment{
				AssessmentID: assessment.ID,
				UserID:       autoChecker.ID,
				Role:         models.AssessmentRoleChecker,
				AutoAssigned: true,
			}); err != nil {
				return false, 0, fmt.Errorf("assign checker for %q on %s", spec.Title, row.ModuleCode)
			}
		}
	}
	return created, made, nil
}

// firstEligibleChecker picks the first active academic moderator. Moderators
// are on the roster, so the independence rule reduces to base-type checks.
func firstEligibleChecker(moderators []*models.User) *models.User {
	for _, moderator := range moderators {
		if moderator.Active && moderator.BaseType == models.BaseTypeAcademic {
			return moderator
		}
	}
	return nil
}

func (s *ImportService) finishJob(ctx context.Context, job *models.ImportJob, report *models.ImportReport) {
	if s.jobs == nil || job.ID == "" {
		return
	}
	status := models.ImportJobCompleted
	if report.SuccessCount < len(report.Rows) {
		status = models.ImportJobCompletedWithError
	}
	if err := s.jobs.Finish(ctx, job.ID, status, models.ImportJobReport{ImportReport: *report}); err != nil {
		s.logger.Warn("failed to finish import job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *ImportService) emitAudit(ctx context.Context, actor *models.JWTClaims, jobID string, report *models.ImportReport) {
	if s.audit == nil {
		return
	}
	resourceID := jobID
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionImportRun,
		Resource:   "import",
		ResourceID: &resourceID,
		NewValues: []byte(fmt.Sprintf(`{"rows":%d,"succeeded":%d,"modules_created":%d,"assessments_created":%d}`,
			len(report.Rows), report.SuccessCount, report.ModulesCreated, report.AssessmentsMade)),
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err))
	}
}

// Job returns a stored import run with its report.
func (s *ImportService) Job(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "import job not found")
		}
		return nil, appErrors.FromError(err)
	}
	return job, nil
}

// Jobs lists recent import runs.
func (s *ImportService) Jobs(ctx context.Context, limit int) ([]models.ImportJob, error) {
	jobs, err := s.jobs.List(ctx, limit)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return jobs, nil
}
