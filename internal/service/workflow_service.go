package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type workflowAssessmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Assessment, error)
	UpdateState(ctx context.Context, id string, version int64, newState models.AssessmentState, priorState *models.AssessmentState) error
	UpdateContent(ctx context.Context, id string, version int64, content models.AssessmentContent) error
	ListRoleAssignments(ctx context.Context, assessmentID string) ([]models.AssessmentRoleAssignment, error)
	AppendTransition(ctx context.Context, transition *models.AssessmentTransition) error
	ListTransitions(ctx context.Context, assessmentID string) ([]models.AssessmentTransition, error)
}

type workflowModuleStore interface {
	GetRoster(ctx context.Context, moduleID string) (*models.ModuleRoster, error)
}

type workflowUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type transitionObserver interface {
	ObserveTransition(family models.FlowFamily, from, to models.AssessmentState)
}

// WorkflowService moves assessments through their lifecycle. Every legality
// decision reads the transition table; this service adds actor resolution,
// optimistic concurrency and the hold mechanism on top.
type WorkflowService struct {
	assessments workflowAssessmentStore
	modules     workflowModuleStore
	users       workflowUserStore
	audit       auditLogger
	metrics     transitionObserver
	logger      *zap.Logger
}

// NewWorkflowService constructs the service.
func NewWorkflowService(assessments workflowAssessmentStore, modules workflowModuleStore, users workflowUserStore, audit auditLogger, metrics transitionObserver, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{
		assessments: assessments,
		modules:     modules,
		users:       users,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
	}
}

// HeldRoles resolves the workflow roles an actor holds with respect to one
// assessment: assessment-level assignments, module roster roles, external
// examiner attachment and the exams-officer capability.
func HeldRoles(actor *models.JWTClaims, roster *models.ModuleRoster, assignments []models.AssessmentRoleAssignment) map[models.WorkflowRole]bool {
	held := make(map[models.WorkflowRole]bool)
	if actor == nil {
		return held
	}
	for _, assignment := range assignments {
		if assignment.UserID != actor.UserID {
			continue
		}
		switch assignment.Role {
		case models.AssessmentRoleSetter:
			held[models.RoleSetter] = true
		case models.AssessmentRoleChecker:
			held[models.RoleChecker] = true
		}
	}
	if roster != nil {
		for _, role := range roster.RolesOf(actor.UserID) {
			switch role {
			case models.ModuleRoleLead:
				held[models.RoleModuleLead] = true
			case models.ModuleRoleModerator:
				held[models.RoleModerator] = true
			case models.ModuleRoleStaff:
				held[models.RoleStaff] = true
			}
		}
		if roster.IsExternalExaminer(actor.UserID) {
			held[models.RoleExternalExaminer] = true
		}
	}
	if actor.ExamsOfficer && actor.BaseType == models.BaseTypeAcademic {
		held[models.RoleExamsOfficer] = true
	}
	return held
}

// AllowedTargets enumerates the states the actor may move the assessment
// into right now. Held or terminal assessments yield an empty list.
func (s *WorkflowService) AllowedTargets(ctx context.Context, assessmentID string, actor *models.JWTClaims) ([]models.AssessmentState, error) {
	assessment, roster, assignments, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.CurrentState == models.StateOnHold {
		return []models.AssessmentState{}, nil
	}
	held := HeldRoles(actor, roster, assignments)
	return models.AllowedTargets(assessment.Family(), assessment.CurrentState, held), nil
}

// Progress executes one actor-requested transition. expectedVersion is the
// version the client last read; a mismatch means someone else moved the
// assessment first.
func (s *WorkflowService) Progress(ctx context.Context, assessmentID string, target models.AssessmentState, note string, expectedVersion int64, actor *models.JWTClaims) (*models.Assessment, error) {
	assessment, roster, assignments, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.CurrentState == models.StateOnHold {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition, "assessment is on hold; release it first")
	}
	if expectedVersion != 0 && expectedVersion != assessment.Version {
		return nil, appErrors.ErrConcurrentModification
	}

	family := assessment.Family()
	if !models.CanTransition(family, assessment.CurrentState, target) {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition,
			fmt.Sprintf("no transition from %s to %s for %s assessments", assessment.CurrentState, target, assessment.Type))
	}

	held := HeldRoles(actor, roster, assignments)
	if !containsState(models.AllowedTargets(family, assessment.CurrentState, held), target) {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition, "none of your roles may request this transition")
	}

	if models.RequiresNote(target) && strings.TrimSpace(note) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a note is required when requesting changes")
	}

	return s.apply(ctx, assessment, target, note, false, actor)
}

// Hold suspends an assessment, remembering where it was. Admin-capable users
// only; a note explaining the hold is mandatory.
func (s *WorkflowService) Hold(ctx context.Context, assessmentID, note string, expectedVersion int64, actor *models.JWTClaims) (*models.Assessment, error) {
	if actor == nil || !actor.IsAdminCapable() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "holding assessments requires administrative capability")
	}
	if strings.TrimSpace(note) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a note is required when placing an assessment on hold")
	}
	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.CurrentState == models.StateOnHold {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition, "assessment is already on hold")
	}
	if models.IsTerminal(assessment.Family(), assessment.CurrentState) {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition, "terminal assessments cannot be held")
	}
	if expectedVersion != 0 && expectedVersion != assessment.Version {
		return nil, appErrors.ErrConcurrentModification
	}

	prior := assessment.CurrentState
	updated, err := s.applyWithPrior(ctx, assessment, models.StateOnHold, &prior, note, false, actor)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor, models.AuditActionHold, assessmentID, fmt.Sprintf(`{"prior_state":%q}`, prior))
	return updated, nil
}

// Release returns a held assessment to the exact state it was in before the
// hold.
func (s *WorkflowService) Release(ctx context.Context, assessmentID, note string, expectedVersion int64, actor *models.JWTClaims) (*models.Assessment, error) {
	if actor == nil || !actor.IsAdminCapable() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "releasing assessments requires administrative capability")
	}
	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.CurrentState != models.StateOnHold {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition, "assessment is not on hold")
	}
	if assessment.PriorState == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "held assessment has no recorded prior state")
	}
	if expectedVersion != 0 && expectedVersion != assessment.Version {
		return nil, appErrors.ErrConcurrentModification
	}

	target := *assessment.PriorState
	updated, err := s.applyWithPrior(ctx, assessment, target, nil, note, false, actor)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor, models.AuditActionRelease, assessmentID, fmt.Sprintf(`{"restored_state":%q}`, target))
	return updated, nil
}

// Override moves an assessment to any state of its family regardless of the
// transition table. Admin-capable users only; the jump is flagged in history
// and a justification note is mandatory.
func (s *WorkflowService) Override(ctx context.Context, assessmentID string, target models.AssessmentState, note string, expectedVersion int64, actor *models.JWTClaims) (*models.Assessment, error) {
	if actor == nil || !actor.IsAdminCapable() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "overriding the workflow requires administrative capability")
	}
	if strings.TrimSpace(note) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a note is required for workflow overrides")
	}
	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if target == models.StateOnHold {
		return nil, appErrors.Clone(appErrors.ErrValidation, "use the hold endpoint to suspend assessments")
	}
	if !models.StatesForFamily(assessment.Family(), target) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("state %s does not apply to %s assessments", target, assessment.Type))
	}
	if expectedVersion != 0 && expectedVersion != assessment.Version {
		return nil, appErrors.ErrConcurrentModification
	}
	return s.applyWithPrior(ctx, assessment, target, nil, note, true, actor)
}

// SystemProgress performs an engine-driven transition with no human actor.
// Used by the exam auto-progress scheduler.
func (s *WorkflowService) SystemProgress(ctx context.Context, assessment *models.Assessment, target models.AssessmentState, note string) error {
	if !models.CanTransition(assessment.Family(), assessment.CurrentState, target) {
		return appErrors.Clone(appErrors.ErrIllegalTransition,
			fmt.Sprintf("no transition from %s to %s", assessment.CurrentState, target))
	}
	if err := s.assessments.UpdateState(ctx, assessment.ID, assessment.Version, target, nil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrConcurrentModification
		}
		return appErrors.FromError(err)
	}
	transition := &models.AssessmentTransition{
		AssessmentID: assessment.ID,
		FromState:    assessment.CurrentState,
		ToState:      target,
		ActorName:    "system",
	}
	if note != "" {
		transition.Note = &note
	}
	if err := s.assessments.AppendTransition(ctx, transition); err != nil {
		s.logger.Warn("failed to record system transition",
			zap.String("assessment_id", assessment.ID),
			zap.Error(err))
	}
	s.observe(assessment.Family(), assessment.CurrentState, target)
	return nil
}

// SubmitContent replaces the draft payload. Only the setter may do this, and
// only while the assessment sits in DRAFT. Requested changes are worked by
// pulling the assessment back to DRAFT, not by editing in place.
func (s *WorkflowService) SubmitContent(ctx context.Context, assessmentID string, content models.AssessmentContent, expectedVersion int64, actor *models.JWTClaims) (*models.Assessment, error) {
	assessment, _, assignments, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if !isSetter(actor, assignments) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the setter may submit assessment content")
	}
	if assessment.CurrentState != models.StateDraft {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition,
			fmt.Sprintf("content cannot be edited while the assessment is %s", assessment.CurrentState))
	}
	if expectedVersion != 0 && expectedVersion != assessment.Version {
		return nil, appErrors.ErrConcurrentModification
	}
	if err := s.assessments.UpdateContent(ctx, assessment.ID, assessment.Version, content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrConcurrentModification
		}
		return nil, appErrors.FromError(err)
	}
	return s.getAssessment(ctx, assessmentID)
}

// History returns the assessment's append-only transition log.
func (s *WorkflowService) History(ctx context.Context, assessmentID string) ([]models.AssessmentTransition, error) {
	if _, err := s.getAssessment(ctx, assessmentID); err != nil {
		return nil, err
	}
	transitions, err := s.assessments.ListTransitions(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return transitions, nil
}

func isSetter(actor *models.JWTClaims, assignments []models.AssessmentRoleAssignment) bool {
	if actor == nil {
		return false
	}
	for _, assignment := range assignments {
		if assignment.UserID == actor.UserID && assignment.Role == models.AssessmentRoleSetter {
			return true
		}
	}
	return false
}

func containsState(states []models.AssessmentState, target models.AssessmentState) bool {
	for _, state := range states {
		if state == target {
			return true
		}
	}
	return false
}

func (s *WorkflowService) getAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	assessment, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.FromError(err)
	}
	return assessment, nil
}

func (s *WorkflowService) load(ctx context.Context, assessmentID string) (*models.Assessment, *models.ModuleRoster, []models.AssessmentRoleAssignment, error) {
	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, nil, nil, err
	}
	roster, err := s.modules.GetRoster(ctx, assessment.ModuleID)
	if err != nil {
		return nil, nil, nil, appErrors.FromError(err)
	}
	assignments, err := s.assessments.ListRoleAssignments(ctx, assessment.ID)
	if err != nil {
		return nil, nil, nil, appErrors.FromError(err)
	}
	return assessment, roster, assignments, nil
}

func (s *WorkflowService) apply(ctx context.Context, assessment *models.Assessment, target models.AssessmentState, note string, override bool, actor *models.JWTClaims) (*models.Assessment, error) {
	return s.applyWithPrior(ctx, assessment, target, nil, note, override, actor)
}

func (s *WorkflowService) applyWithPrior(ctx context.Context, assessment *models.Assessment, target models.AssessmentState, prior *models.AssessmentState, note string, override bool, actor *models.JWTClaims) (*models.Assessment, error) {
	if err := s.assessments.UpdateState(ctx, assessment.ID, assessment.Version, target, prior); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrConcurrentModification
		}
		return nil, appErrors.FromError(err)
	}

	transition := &models.AssessmentTransition{
		AssessmentID: assessment.ID,
		FromState:    assessment.CurrentState,
		ToState:      target,
		Override:     override,
	}
	if actor != nil {
		transition.ActorID = &actor.UserID
		transition.ActorName = actor.Name
	}
	if strings.TrimSpace(note) != "" {
		trimmed := strings.TrimSpace(note)
		transition.Note = &trimmed
	}
	if err := s.assessments.AppendTransition(ctx, transition); err != nil {
		s.logger.Warn("failed to record transition",
			zap.String("assessment_id", assessment.ID),
			zap.Error(err))
	}

	s.observe(assessment.Family(), assessment.CurrentState, target)
	s.emitAudit(ctx, actor, models.AuditActionTransition, assessment.ID,
		fmt.Sprintf(`{"from":%q,"to":%q,"override":%t}`, assessment.CurrentState, target, override))

	return s.getAssessment(ctx, assessment.ID)
}

func (s *WorkflowService) observe(family models.FlowFamily, from, to models.AssessmentState) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(family, from, to)
	}
}

func (s *WorkflowService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, newValues string) {
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
