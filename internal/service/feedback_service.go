package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type feedbackStore interface {
	Create(ctx context.Context, feedback *models.Feedback) error
	ListByAssessment(ctx context.Context, assessmentID string) ([]models.Feedback, error)
}

// FeedbackService records checker, external examiner and setter-response
// feedback. Feedback never moves the workflow; it only documents the state
// the assessment held when it was written.
type FeedbackService struct {
	feedback    feedbackStore
	assessments workflowAssessmentStore
	modules     workflowModuleStore
	logger      *zap.Logger
}

// NewFeedbackService constructs the service.
func NewFeedbackService(feedback feedbackStore, assessments workflowAssessmentStore, modules workflowModuleStore, logger *zap.Logger) *FeedbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackService{
		feedback:    feedback,
		assessments: assessments,
		modules:     modules,
		logger:      logger,
	}
}

// Submit stores one feedback record after checking the author holds the role
// the kind implies.
func (s *FeedbackService) Submit(ctx context.Context, assessmentID string, kind models.FeedbackKind, text string, actor *models.JWTClaims) (*models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(text) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "feedback text is required")
	}

	assessment, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
	}
	roster, err := s.modules.GetRoster(ctx, assessment.ModuleID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	assignments, err := s.assessments.ListRoleAssignments(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	held := HeldRoles(actor, roster, assignments)

	switch kind {
	case models.FeedbackChecker:
		if !held[models.RoleChecker] {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the checker may submit checker feedback")
		}
	case models.FeedbackExternal:
		if !held[models.RoleExternalExaminer] {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the external examiner may submit external feedback")
		}
	case models.FeedbackSetterResponse:
		if !held[models.RoleSetter] {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the setter may submit a response")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown feedback kind")
	}

	record := &models.Feedback{
		AssessmentID: assessmentID,
		Kind:         kind,
		AuthorID:     actor.UserID,
		AuthorName:   actor.Name,
		State:        assessment.CurrentState,
		Text:         strings.TrimSpace(text),
	}
	if err := s.feedback.Create(ctx, record); err != nil {
		return nil, appErrors.FromError(err)
	}
	return record, nil
}

// List returns all feedback on an assessment, oldest first.
func (s *FeedbackService) List(ctx context.Context, assessmentID string) ([]models.Feedback, error) {
	if _, err := s.assessments.GetByID(ctx, assessmentID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
	}
	feedback, err := s.feedback.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return feedback, nil
}
