package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type eligibilityAssessmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Assessment, error)
	List(ctx context.Context, filter models.AssessmentFilter) ([]models.Assessment, int, error)
	ListRoleAssignments(ctx context.Context, assessmentID string) ([]models.AssessmentRoleAssignment, error)
	AssignRole(ctx context.Context, assignment *models.AssessmentRoleAssignment) error
	RemoveRole(ctx context.Context, assessmentID, userID string, role models.AssessmentRole) error
}

type eligibilityModuleStore interface {
	GetRoster(ctx context.Context, moduleID string) (*models.ModuleRoster, error)
}

type eligibilityUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type scopeInvalidator interface {
	InvalidateScope(ctx context.Context, userID string) error
}

// EligibilityService enforces who may hold SETTER and CHECKER on an
// assessment and keeps moderator-derived checker assignments consistent.
type EligibilityService struct {
	assessments eligibilityAssessmentStore
	modules     eligibilityModuleStore
	users       eligibilityUserStore
	audit       auditLogger
	scopes      scopeInvalidator
	logger      *zap.Logger
}

// NewEligibilityService constructs the service.
func NewEligibilityService(assessments eligibilityAssessmentStore, modules eligibilityModuleStore, users eligibilityUserStore, audit auditLogger, scopes scopeInvalidator, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{
		assessments: assessments,
		modules:     modules,
		users:       users,
		audit:       audit,
		scopes:      scopes,
		logger:      logger,
	}
}

// CheckSetterEligibility applies the setter rule: active academic staff only.
func CheckSetterEligibility(user *models.User) error {
	if !user.Active {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "inactive users cannot hold assessment roles")
	}
	if user.BaseType != models.BaseTypeAcademic {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "only academic staff may be assigned as setter")
	}
	return nil
}

// CheckCheckerEligibility applies the checker independence rule: an active
// academic who is either a moderator of the module or entirely off its
// roster. Plain roster members are too close to the material to check it.
func CheckCheckerEligibility(user *models.User, roster *models.ModuleRoster) error {
	if !user.Active {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "inactive users cannot hold assessment roles")
	}
	if user.BaseType != models.BaseTypeAcademic {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "only academic staff may be assigned as checker")
	}
	if roster.HasRole(user.ID, models.ModuleRoleModerator) {
		return nil
	}
	if roster.OnRoster(user.ID) {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "module staff other than moderators cannot check their own module's assessments")
	}
	return nil
}

// AssignRole attaches an explicit SETTER or CHECKER after checking
// eligibility and mutual exclusivity. Explicit checker assignments replace an
// auto-assigned one; explicit rows are never silently replaced.
func (s *EligibilityService) AssignRole(ctx context.Context, assessmentID, userID string, role models.AssessmentRole, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "managing assessment roles requires administrative capability")
	}
	assessment, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return appErrors.FromError(err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.FromError(err)
	}

	roster, err := s.modules.GetRoster(ctx, assessment.ModuleID)
	if err != nil {
		return appErrors.FromError(err)
	}

	switch role {
	case models.AssessmentRoleSetter:
		if err := CheckSetterEligibility(user); err != nil {
			return err
		}
	case models.AssessmentRoleChecker:
		if err := CheckCheckerEligibility(user, roster); err != nil {
			return err
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown assessment role %q", role))
	}

	assignments, err := s.assessments.ListRoleAssignments(ctx, assessmentID)
	if err != nil {
		return appErrors.FromError(err)
	}

	other := models.AssessmentRoleChecker
	if role == models.AssessmentRoleChecker {
		other = models.AssessmentRoleSetter
	}
	for _, existing := range assignments {
		if existing.UserID == userID && existing.Role == role {
			return appErrors.Clone(appErrors.ErrConflict, "user already holds this role on the assessment")
		}
		if existing.UserID == userID && existing.Role == other {
			// The same person can never be both setter and checker, but an
			// auto-propagated checker yields to an explicit setter pick.
			if existing.Role == models.AssessmentRoleChecker && existing.AutoAssigned && role == models.AssessmentRoleSetter {
				if err := s.assessments.RemoveRole(ctx, assessmentID, userID, models.AssessmentRoleChecker); err != nil {
					return appErrors.FromError(err)
				}
				continue
			}
			return appErrors.Clone(appErrors.ErrRoleConflict, "setter and checker must be different people")
		}
		// An explicit checker replaces a previous auto-assigned one.
		if role == models.AssessmentRoleChecker && existing.Role == models.AssessmentRoleChecker {
			if !existing.AutoAssigned {
				return appErrors.Clone(appErrors.ErrConflict, "assessment already has an explicitly assigned checker")
			}
			if err := s.assessments.RemoveRole(ctx, assessmentID, existing.UserID, models.AssessmentRoleChecker); err != nil {
				return appErrors.FromError(err)
			}
		}
	}

	assignment := &models.AssessmentRoleAssignment{
		AssessmentID: assessmentID,
		UserID:       userID,
		Role:         role,
		AutoAssigned: false,
	}
	if err := s.assessments.AssignRole(ctx, assignment); err != nil {
		return appErrors.FromError(err)
	}

	s.invalidateScope(ctx, userID)
	s.emitAudit(ctx, actor, models.AuditActionRoleAssign, assessmentID, fmt.Sprintf(`{"user_id":%q,"role":%q}`, userID, role))
	return nil
}

// RemoveRole detaches a role assignment. Removal never re-triggers moderator
// propagation: an emptied checker slot stays empty until the next roster
// change or an explicit assignment.
func (s *EligibilityService) RemoveRole(ctx context.Context, assessmentID, userID string, role models.AssessmentRole, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "managing assessment roles requires administrative capability")
	}
	if _, err := s.assessments.GetByID(ctx, assessmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return appErrors.FromError(err)
	}

	if err := s.assessments.RemoveRole(ctx, assessmentID, userID, role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role assignment not found")
		}
		return appErrors.FromError(err)
	}

	s.invalidateScope(ctx, userID)
	s.emitAudit(ctx, actor, models.AuditActionRoleRemove, assessmentID, fmt.Sprintf(`{"user_id":%q,"role":%q}`, userID, role))
	return nil
}

// PropagateModeratorCheckers walks a module's assessments and fills empty
// checker slots from the roster's moderators. Called after a moderator joins
// the roster. First eligible moderator wins; explicit assignments are left
// untouched.
func (s *EligibilityService) PropagateModeratorCheckers(ctx context.Context, moduleID string) error {
	filter := models.AssessmentFilter{ModuleIDs: []string{moduleID}, Page: 1, PageSize: 100}
	for {
		assessments, total, err := s.assessments.List(ctx, filter)
		if err != nil {
			return appErrors.FromError(err)
		}
		for i := range assessments {
			if err := s.propagateChecker(ctx, &assessments[i]); err != nil {
				s.logger.Warn("moderator checker propagation failed",
					zap.String("assessment_id", assessments[i].ID),
					zap.Error(err))
			}
		}
		if len(assessments) == 0 || filter.Page*filter.PageSize >= total {
			return nil
		}
		filter.Page++
	}
}

// propagateChecker assigns the first eligible moderator as auto checker when
// the assessment has none.
func (s *EligibilityService) propagateChecker(ctx context.Context, assessment *models.Assessment) error {
	assignments, err := s.assessments.ListRoleAssignments(ctx, assessment.ID)
	if err != nil {
		return err
	}
	setters := map[string]bool{}
	for _, existing := range assignments {
		if existing.Role == models.AssessmentRoleChecker {
			return nil
		}
		if existing.Role == models.AssessmentRoleSetter {
			setters[existing.UserID] = true
		}
	}

	roster, err := s.modules.GetRoster(ctx, assessment.ModuleID)
	if err != nil {
		return err
	}
	for _, moderatorID := range roster.Moderators() {
		if setters[moderatorID] {
			continue
		}
		user, err := s.users.FindByID(ctx, moderatorID)
		if err != nil {
			continue
		}
		if CheckCheckerEligibility(user, roster) != nil {
			continue
		}
		assignment := &models.AssessmentRoleAssignment{
			AssessmentID: assessment.ID,
			UserID:       moderatorID,
			Role:         models.AssessmentRoleChecker,
			AutoAssigned: true,
		}
		if err := s.assessments.AssignRole(ctx, assignment); err != nil {
			return err
		}
		s.invalidateScope(ctx, moderatorID)
		return nil
	}
	return nil
}

func (s *EligibilityService) invalidateScope(ctx context.Context, userID string) {
	if s.scopes == nil {
		return
	}
	if err := s.scopes.InvalidateScope(ctx, userID); err != nil {
		s.logger.Warn("scope invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *EligibilityService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, newValues string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "assessment",
		ResourceID: &resourceID,
		NewValues:  []byte(newValues),
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}
