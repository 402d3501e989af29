package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type assessmentStore interface {
	Create(ctx context.Context, assessment *models.Assessment) error
	GetByID(ctx context.Context, id string) (*models.Assessment, error)
	List(ctx context.Context, filter models.AssessmentFilter) ([]models.Assessment, int, error)
	SetExamDate(ctx context.Context, id string, version int64, examDate time.Time) error
	ListRoleAssignments(ctx context.Context, assessmentID string) ([]models.AssessmentRoleAssignment, error)
}

type assessmentModuleStore interface {
	GetByID(ctx context.Context, id string) (*models.Module, error)
	GetRoster(ctx context.Context, moduleID string) (*models.ModuleRoster, error)
}

type visibilityResolver interface {
	VisibleModuleIDs(ctx context.Context, actor *models.JWTClaims, view models.ViewMode) ([]string, bool, error)
	CanSeeModule(ctx context.Context, actor *models.JWTClaims, moduleID string) (bool, error)
}

// AssessmentDetail bundles everything a client needs to render one
// assessment: the record, its role assignments and the states the requesting
// actor may move it into.
type AssessmentDetail struct {
	Assessment     *models.Assessment                `json:"assessment"`
	Roles          []models.AssessmentRoleAssignment `json:"roles"`
	AllowedTargets []models.AssessmentState          `json:"allowed_targets"`
}

// AssessmentService creates and reads assessments. Transitions live in
// WorkflowService; this service owns creation and scope-filtered access.
type AssessmentService struct {
	assessments assessmentStore
	modules     assessmentModuleStore
	scope       visibilityResolver
	workflow    *WorkflowService
	propagator  checkerPropagator
	audit       auditLogger
	logger      *zap.Logger
}

// NewAssessmentService constructs the service.
func NewAssessmentService(assessments assessmentStore, modules assessmentModuleStore, scope visibilityResolver, workflow *WorkflowService, propagator checkerPropagator, audit auditLogger, logger *zap.Logger) *AssessmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssessmentService{
		assessments: assessments,
		modules:     modules,
		scope:       scope,
		workflow:    workflow,
		propagator:  propagator,
		audit:       audit,
		logger:      logger,
	}
}

// Create adds a DRAFT assessment to a module. Only actors who can administer
// the system or lead the module may create assessments.
func (s *AssessmentService) Create(ctx context.Context, moduleID, title string, assessmentType models.AssessmentType, examDate *time.Time, actor *models.JWTClaims) (*models.Assessment, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assessment title is required")
	}
	switch assessmentType {
	case models.AssessmentTypeCW, models.AssessmentTypeTest, models.AssessmentTypeExam:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown assessment type %q", assessmentType))
	}
	if assessmentType != models.AssessmentTypeExam && examDate != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exam date is only valid for EXAM assessments")
	}

	module, err := s.modules.GetByID(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	if !actor.IsAdminCapable() {
		roster, err := s.modules.GetRoster(ctx, moduleID)
		if err != nil {
			return nil, err
		}
		if !roster.HasRole(actor.UserID, models.ModuleRoleLead) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only module leads may create assessments")
		}
	}

	assessment := &models.Assessment{
		ID:       uuid.NewString(),
		ModuleID: module.ID,
		Title:    title,
		Type:     assessmentType,
		ExamDate: examDate,
	}
	if err := s.assessments.Create(ctx, assessment); err != nil {
		return nil, err
	}

	// A new assessment is born with an empty checker slot; the module's
	// moderator fills it straight away.
	if s.propagator != nil {
		if err := s.propagator.PropagateModeratorCheckers(ctx, module.ID); err != nil {
			s.logger.Warn("checker propagation after create failed",
				zap.String("module_id", module.ID),
				zap.Error(err))
		}
	}

	s.emitAudit(ctx, actor, models.AuditActionAssessmentCreate, assessment.ID,
		fmt.Sprintf(`{"module_id":%q,"title":%q,"type":%q}`, module.ID, title, assessmentType))

	return s.assessments.GetByID(ctx, assessment.ID)
}

// List returns assessments visible to the actor. Scope restriction narrows
// the module filter; requesting a module outside the actor's scope yields an
// empty page rather than an error.
func (s *AssessmentService) List(ctx context.Context, filter models.AssessmentFilter, view models.ViewMode, actor *models.JWTClaims) ([]models.Assessment, int, error) {
	visible, unrestricted, err := s.scope.VisibleModuleIDs(ctx, actor, view)
	if err != nil {
		return nil, 0, err
	}
	if !unrestricted {
		if len(filter.ModuleIDs) == 0 {
			filter.ModuleIDs = visible
		} else {
			filter.ModuleIDs = intersect(filter.ModuleIDs, visible)
		}
		if len(filter.ModuleIDs) == 0 {
			return []models.Assessment{}, 0, nil
		}
	}
	return s.assessments.List(ctx, filter)
}

// Get returns one assessment with its role assignments and the transition
// targets available to the requesting actor.
func (s *AssessmentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*AssessmentDetail, error) {
	assessment, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.scope.CanSeeModule(ctx, actor, assessment.ModuleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.ErrNotFound
	}

	roles, err := s.assessments.ListRoleAssignments(ctx, id)
	if err != nil {
		return nil, err
	}

	targets, err := s.workflow.AllowedTargets(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	return &AssessmentDetail{Assessment: assessment, Roles: roles, AllowedTargets: targets}, nil
}

// SetExamDate schedules or reschedules an EXAM assessment sitting. Exam
// logistics belong to the exams officer, not general admin capability.
func (s *AssessmentService) SetExamDate(ctx context.Context, id string, examDate time.Time, expectedVersion int64, actor *models.JWTClaims) (*models.Assessment, error) {
	if actor == nil || actor.BaseType != models.BaseTypeAcademic || !actor.ExamsOfficer {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exam scheduling requires the exams officer capability")
	}
	assessment, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if assessment.Type != models.AssessmentTypeExam {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exam date is only valid for EXAM assessments")
	}
	if expectedVersion == 0 {
		expectedVersion = assessment.Version
	}
	if err := s.assessments.SetExamDate(ctx, id, expectedVersion, examDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrConcurrentModification
		}
		return nil, err
	}
	s.emitAudit(ctx, actor, models.AuditActionAssessmentUpdate, id,
		fmt.Sprintf(`{"exam_date":%q}`, examDate.Format(time.RFC3339)))
	return s.assessments.GetByID(ctx, id)
}

func (s *AssessmentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, newValues string) {
	if s.audit == nil || actor == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "assessment",
		ResourceID: &resourceID,
		NewValues:  []byte(newValues),
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func intersect(a, b []string) []string {
	allowed := make(map[string]struct{}, len(b))
	for _, id := range b {
		allowed[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
