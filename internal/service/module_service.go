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

type moduleStore interface {
	Create(ctx context.Context, module *models.Module) error
	GetByID(ctx context.Context, id string) (*models.Module, error)
	GetByCode(ctx context.Context, code string) (*models.Module, error)
	UpdateTitle(ctx context.Context, id, title string) error
	List(ctx context.Context, filter models.ModuleFilter) ([]models.Module, int, error)
	GetRoster(ctx context.Context, moduleID string) (*models.ModuleRoster, error)
	AddStaffRole(ctx context.Context, entry *models.ModuleStaffRole) error
	RemoveStaffRole(ctx context.Context, moduleID, userID string, role models.ModuleRole) error
	AddExternalExaminer(ctx context.Context, moduleID, userID string) error
	RemoveExternalExaminer(ctx context.Context, moduleID, userID string) error
}

type checkerPropagator interface {
	PropagateModeratorCheckers(ctx context.Context, moduleID string) error
}

// ModuleService manages modules and their staff rosters. Roster changes feed
// back into assessment checker propagation and scope caches.
type ModuleService struct {
	modules    moduleStore
	users      eligibilityUserStore
	propagator checkerPropagator
	scopes     scopeInvalidator
	audit      auditLogger
	logger     *zap.Logger
}

// NewModuleService constructs the service.
func NewModuleService(modules moduleStore, users eligibilityUserStore, propagator checkerPropagator, scopes scopeInvalidator, audit auditLogger, logger *zap.Logger) *ModuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleService{
		modules:    modules,
		users:      users,
		propagator: propagator,
		scopes:     scopes,
		audit:      audit,
		logger:     logger,
	}
}

// Create registers a new module. Admin-capable actors only.
func (s *ModuleService) Create(ctx context.Context, module *models.Module, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "creating modules requires administrative capability")
	}
	if _, err := s.modules.GetByCode(ctx, module.Code); err == nil {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("module %s already exists", module.Code))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.FromError(err)
	}
	if err := s.modules.Create(ctx, module); err != nil {
		return appErrors.FromError(err)
	}
	return nil
}

// Get returns one module with its roster.
func (s *ModuleService) Get(ctx context.Context, id string) (*models.Module, *models.ModuleRoster, error) {
	module, err := s.modules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, nil, appErrors.FromError(err)
	}
	roster, err := s.modules.GetRoster(ctx, id)
	if err != nil {
		return nil, nil, appErrors.FromError(err)
	}
	return module, roster, nil
}

// List returns modules matching the filter.
func (s *ModuleService) List(ctx context.Context, filter models.ModuleFilter) ([]models.Module, int, error) {
	modules, total, err := s.modules.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.FromError(err)
	}
	return modules, total, nil
}

// AddStaffRole adds a roster entry. Adding a moderator triggers checker
// propagation over the module's assessments.
func (s *ModuleService) AddStaffRole(ctx context.Context, moduleID, userID string, role models.ModuleRole, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "managing rosters requires administrative capability")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.FromError(err)
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "inactive users cannot join a roster")
	}
	if user.BaseType == models.BaseTypeExternalExaminer {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "external examiners are attached separately, not via the staff roster")
	}
	if _, err := s.modules.GetByID(ctx, moduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return appErrors.FromError(err)
	}

	roster, err := s.modules.GetRoster(ctx, moduleID)
	if err != nil {
		return appErrors.FromError(err)
	}
	switch role {
	case models.ModuleRoleLead:
		if roster.HasRole(userID, models.ModuleRoleModerator) {
			return appErrors.Clone(appErrors.ErrRoleConflict, "a module's lead and moderator must be different people")
		}
		// A module has exactly one lead; naming a new one displaces the
		// old one.
		for _, entry := range roster.Staff {
			if entry.Role == models.ModuleRoleLead && entry.UserID != userID {
				if err := s.modules.RemoveStaffRole(ctx, moduleID, entry.UserID, models.ModuleRoleLead); err != nil {
					return appErrors.FromError(err)
				}
				s.invalidateScope(ctx, entry.UserID)
			}
		}
	case models.ModuleRoleModerator:
		if roster.HasRole(userID, models.ModuleRoleLead) {
			return appErrors.Clone(appErrors.ErrRoleConflict, "a module's lead and moderator must be different people")
		}
	}

	if err := s.modules.AddStaffRole(ctx, &models.ModuleStaffRole{
		ModuleID: moduleID,
		UserID:   userID,
		Role:     role,
	}); err != nil {
		return appErrors.FromError(err)
	}

	s.invalidateScope(ctx, userID)
	s.emitAudit(ctx, actor, models.AuditActionRoleAssign, moduleID, fmt.Sprintf(`{"user_id":%q,"role":%q}`, userID, role))

	if role == models.ModuleRoleModerator && s.propagator != nil {
		if err := s.propagator.PropagateModeratorCheckers(ctx, moduleID); err != nil {
			s.logger.Warn("checker propagation after moderator add failed",
				zap.String("module_id", moduleID),
				zap.Error(err))
		}
	}
	return nil
}

// RemoveStaffRole drops a roster entry.
func (s *ModuleService) RemoveStaffRole(ctx context.Context, moduleID, userID string, role models.ModuleRole, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "managing rosters requires administrative capability")
	}
	if err := s.modules.RemoveStaffRole(ctx, moduleID, userID, role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "roster entry not found")
		}
		return appErrors.FromError(err)
	}
	s.invalidateScope(ctx, userID)
	s.emitAudit(ctx, actor, models.AuditActionRoleRemove, moduleID, fmt.Sprintf(`{"user_id":%q,"role":%q}`, userID, role))
	return nil
}

// AddExternalExaminer attaches an external examiner to the module.
func (s *ModuleService) AddExternalExaminer(ctx context.Context, moduleID, userID string, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "managing examiners requires administrative capability")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.FromError(err)
	}
	if user.BaseType != models.BaseTypeExternalExaminer {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "only external examiner accounts can be attached as examiners")
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrIneligibleRole, "inactive users cannot be attached as examiners")
	}
	if err := s.modules.AddExternalExaminer(ctx, moduleID, userID); err != nil {
		return appErrors.FromError(err)
	}
	s.invalidateScope(ctx, userID)
	s.emitAudit(ctx, actor, models.AuditActionRoleAssign, moduleID, fmt.Sprintf(`{"user_id":%q,"role":"EXTERNAL_EXAMINER"}`, userID))
	return nil
}

// RemoveExternalExaminer detaches an external examiner from the module.
func (s *ModuleService) RemoveExternalExaminer(ctx context.Context, moduleID, userID string, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "managing examiners requires administrative capability")
	}
	if err := s.modules.RemoveExternalExaminer(ctx, moduleID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "examiner attachment not found")
		}
		return appErrors.FromError(err)
	}
	s.invalidateScope(ctx, userID)
	s.emitAudit(ctx, actor, models.AuditActionRoleRemove, moduleID, fmt.Sprintf(`{"user_id":%q,"role":"EXTERNAL_EXAMINER"}`, userID))
	return nil
}

func (s *ModuleService) invalidateScope(ctx context.Context, userID string) {
	if s.scopes == nil {
		return
	}
	if err := s.scopes.InvalidateScope(ctx, userID); err != nil {
		s.logger.Warn("scope invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *ModuleService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, newValues string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "module",
		ResourceID: &resourceID,
		NewValues:  []byte(newValues),
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}
