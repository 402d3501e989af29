package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type assessmentStoreStub struct {
	assessments map[string]*models.Assessment
	assignments map[string][]models.AssessmentRoleAssignment
	transitions map[string][]models.AssessmentTransition
}

func newAssessmentStoreStub() *assessmentStoreStub {
	return &assessmentStoreStub{
		assessments: make(map[string]*models.Assessment),
		assignments: make(map[string][]models.AssessmentRoleAssignment),
		transitions: make(map[string][]models.AssessmentTransition),
	}
}

func (s *assessmentStoreStub) Create(ctx context.Context, assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	if assessment.CurrentState == "" {
		assessment.CurrentState = models.StateDraft
	}
	if assessment.Version == 0 {
		assessment.Version = 1
	}
	clone := *assessment
	s.assessments[assessment.ID] = &clone
	return nil
}

func (s *assessmentStoreStub) SetExamDate(ctx context.Context, id string, version int64, examDate time.Time) error {
	a, ok := s.assessments[id]
	if !ok || a.Version != version {
		return sql.ErrNoRows
	}
	a.ExamDate = &examDate
	a.Version++
	return nil
}

func (s *assessmentStoreStub) GetByID(ctx context.Context, id string) (*models.Assessment, error) {
	if a, ok := s.assessments[id]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (s *assessmentStoreStub) List(ctx context.Context, filter models.AssessmentFilter) ([]models.Assessment, int, error) {
	var result []models.Assessment
	for _, a := range s.assessments {
		if len(filter.ModuleIDs) > 0 {
			match := false
			for _, id := range filter.ModuleIDs {
				if a.ModuleID == id {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	total := len(result)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start > total {
			start = total
		}
		end := start + filter.PageSize
		if end > total {
			end = total
		}
		result = result[start:end]
	}
	return result, total, nil
}

func (s *assessmentStoreStub) UpdateState(ctx context.Context, id string, version int64, newState models.AssessmentState, priorState *models.AssessmentState) error {
	a, ok := s.assessments[id]
	if !ok || a.Version != version {
		return sql.ErrNoRows
	}
	a.CurrentState = newState
	a.PriorState = priorState
	a.Version++
	return nil
}

func (s *assessmentStoreStub) UpdateContent(ctx context.Context, id string, version int64, content models.AssessmentContent) error {
	a, ok := s.assessments[id]
	if !ok || a.Version != version {
		return sql.ErrNoRows
	}
	a.Description = &content.Description
	a.FileName = content.FileName
	a.FileURL = content.FileURL
	a.Version++
	return nil
}

func (s *assessmentStoreStub) ListRoleAssignments(ctx context.Context, assessmentID string) ([]models.AssessmentRoleAssignment, error) {
	return append([]models.AssessmentRoleAssignment(nil), s.assignments[assessmentID]...), nil
}

func (s *assessmentStoreStub) AssignRole(ctx context.Context, assignment *models.AssessmentRoleAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	s.assignments[assignment.AssessmentID] = append(s.assignments[assignment.AssessmentID], *assignment)
	return nil
}

func (s *assessmentStoreStub) RemoveRole(ctx context.Context, assessmentID, userID string, role models.AssessmentRole) error {
	entries := s.assignments[assessmentID]
	for i, entry := range entries {
		if entry.UserID == userID && entry.Role == role {
			s.assignments[assessmentID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *assessmentStoreStub) AppendTransition(ctx context.Context, transition *models.AssessmentTransition) error {
	if transition.ID == "" {
		transition.ID = uuid.NewString()
	}
	if transition.At.IsZero() {
		transition.At = time.Now().UTC()
	}
	s.transitions[transition.AssessmentID] = append(s.transitions[transition.AssessmentID], *transition)
	return nil
}

func (s *assessmentStoreStub) ListTransitions(ctx context.Context, assessmentID string) ([]models.AssessmentTransition, error) {
	return append([]models.AssessmentTransition(nil), s.transitions[assessmentID]...), nil
}

type moduleStoreStub struct {
	rosters map[string]*models.ModuleRoster
	modules map[string]*models.Module
}

func newModuleStoreStub() *moduleStoreStub {
	return &moduleStoreStub{
		rosters: make(map[string]*models.ModuleRoster),
		modules: make(map[string]*models.Module),
	}
}

func (s *moduleStoreStub) GetByID(ctx context.Context, id string) (*models.Module, error) {
	if module, ok := s.modules[id]; ok {
		clone := *module
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (s *moduleStoreStub) GetRoster(ctx context.Context, moduleID string) (*models.ModuleRoster, error) {
	if roster, ok := s.rosters[moduleID]; ok {
		return roster, nil
	}
	return &models.ModuleRoster{ModuleID: moduleID}, nil
}

type userStoreStub struct {
	users map[string]*models.User
}

func newUserStoreStub() *userStoreStub {
	return &userStoreStub{users: make(map[string]*models.User)}
}

func (s *userStoreStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type scopeStub struct {
	invalidated []string
}

func (s *scopeStub) InvalidateScope(ctx context.Context, userID string) error {
	s.invalidated = append(s.invalidated, userID)
	return nil
}

func academicClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Name: "User " + userID, BaseType: models.BaseTypeAcademic}
}

func officerClaims(userID string) *models.JWTClaims {
	c := academicClaims(userID)
	c.ExamsOfficer = true
	return c
}

func supportClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Name: "User " + userID, BaseType: models.BaseTypeTeachingSupport}
}

func workflowFixture(t *testing.T, assessmentType models.AssessmentType) (*WorkflowService, *assessmentStoreStub, *models.Assessment) {
	t.Helper()
	store := newAssessmentStoreStub()
	modules := newModuleStoreStub()
	users := newUserStoreStub()

	assessment := &models.Assessment{
		ID:           "a1",
		ModuleID:     "m1",
		Title:        "Assessment",
		Type:         assessmentType,
		CurrentState: models.StateDraft,
		Version:      1,
	}
	store.assessments[assessment.ID] = assessment
	store.assignments[assessment.ID] = []models.AssessmentRoleAssignment{
		{AssessmentID: "a1", UserID: "setter", Role: models.AssessmentRoleSetter},
		{AssessmentID: "a1", UserID: "checker", Role: models.AssessmentRoleChecker},
	}

	svc := NewWorkflowService(store, modules, users, &auditStub{}, nil, nil)
	return svc, store, assessment
}

func TestWorkflowAllowedTargetsForSetterInDraft(t *testing.T) {
	svc, _, _ := workflowFixture(t, models.AssessmentTypeCW)

	targets, err := svc.AllowedTargets(context.Background(), "a1", academicClaims("setter"))
	require.NoError(t, err)
	assert.Equal(t, []models.AssessmentState{models.StateReadyForCheck}, targets)

	targets, err = svc.AllowedTargets(context.Background(), "a1", academicClaims("checker"))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestWorkflowProgressHappyPath(t *testing.T) {
	svc, store, _ := workflowFixture(t, models.AssessmentTypeCW)

	updated, err := svc.Progress(context.Background(), "a1", models.StateReadyForCheck, "", 1, academicClaims("setter"))
	require.NoError(t, err)
	assert.Equal(t, models.StateReadyForCheck, updated.CurrentState)
	assert.Equal(t, int64(2), updated.Version)

	history := store.transitions["a1"]
	require.Len(t, history, 1)
	assert.Equal(t, models.StateDraft, history[0].FromState)
	assert.Equal(t, models.StateReadyForCheck, history[0].ToState)
	assert.False(t, history[0].Override)
}

func TestWorkflowProgressRejectsMissingEdge(t *testing.T) {
	svc, _, _ := workflowFixture(t, models.AssessmentTypeCW)

	_, err := svc.Progress(context.Background(), "a1", models.StateReleased, "", 1, academicClaims("setter"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrIllegalTransition.Code, appErr.Code)
}

func TestWorkflowProgressRejectsWrongRole(t *testing.T) {
	svc, _, _ := workflowFixture(t, models.AssessmentTypeCW)

	_, err := svc.Progress(context.Background(), "a1", models.StateReadyForCheck, "", 1, academicClaims("checker"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrIllegalTransition.Code, appErr.Code)
}

func TestWorkflowProgressRequiresNoteForChangesRequired(t *testing.T) {
	svc, store, _ := workflowFixture(t, models.AssessmentTypeCW)
	store.assessments["a1"].CurrentState = models.StateReadyForCheck

	_, err := svc.Progress(context.Background(), "a1", models.StateChangesRequired, "  ", 1, academicClaims("checker"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	updated, err := svc.Progress(context.Background(), "a1", models.StateChangesRequired, "question 3 is ambiguous", 1, academicClaims("checker"))
	require.NoError(t, err)
	assert.Equal(t, models.StateChangesRequired, updated.CurrentState)
	require.NotNil(t, store.transitions["a1"][0].Note)
	assert.Equal(t, "question 3 is ambiguous", *store.transitions["a1"][0].Note)
}

func TestWorkflowProgressDetectsStaleVersion(t *testing.T) {
	svc, store, _ := workflowFixture(t, models.AssessmentTypeCW)
	store.assessments["a1"].Version = 5

	_, err := svc.Progress(context.Background(), "a1", models.StateReadyForCheck, "", 4, academicClaims("setter"))
	assert.ErrorIs(t, err, appErrors.ErrConcurrentModification)
}

func TestWorkflowHoldAndRelease(t *testing.T) {
	svc, store, _ := workflowFixture(t, models.AssessmentTypeCW)
	store.assessments["a1"].CurrentState = models.StateReadyForCheck

	held, err := svc.Hold(context.Background(), "a1", "academic integrity investigation", 1, supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, models.StateOnHold, held.CurrentState)
	require.NotNil(t, held.PriorState)
	assert.Equal(t, models.StateReadyForCheck, *held.PriorState)

	// Held assessments expose no transitions, even to the setter.
	targets, err := svc.AllowedTargets(context.Background(), "a1", academicClaims("setter"))
	require.NoError(t, err)
	assert.Empty(t, targets)

	released, err := svc.Release(context.Background(), "a1", "investigation closed", held.Version, supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, models.StateReadyForCheck, released.CurrentState)
	assert.Nil(t, released.PriorState)
}

func TestWorkflowHoldRequiresAdminAndNote(t *testing.T) {
	svc, _, _ := workflowFixture(t, models.AssessmentTypeCW)

	_, err := svc.Hold(context.Background(), "a1", "reason", 1, academicClaims("setter"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.Hold(context.Background(), "a1", "", 1, supportClaims("admin"))
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestWorkflowOverrideFlagsHistory(t *testing.T) {
	svc, store, _ := workflowFixture(t, models.AssessmentTypeExam)

	_, err := svc.Override(context.Background(), "a1", models.StateFinalCheck, "migrated from the old system", 1, academicClaims("setter"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	updated, err := svc.Override(context.Background(), "a1", models.StateFinalCheck, "migrated from the old system", 1, officerClaims("eo"))
	require.NoError(t, err)
	assert.Equal(t, models.StateFinalCheck, updated.CurrentState)
	require.Len(t, store.transitions["a1"], 1)
	assert.True(t, store.transitions["a1"][0].Override)
}

func TestWorkflowOverrideRejectsForeignFamilyState(t *testing.T) {
	svc, _, _ := workflowFixture(t, models.AssessmentTypeCW)

	_, err := svc.Override(context.Background(), "a1", models.StateExamOfficerCheck, "note", 1, supportClaims("admin"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestWorkflowSubmitContent(t *testing.T) {
	svc, store, _ := workflowFixture(t, models.AssessmentTypeCW)

	content := models.AssessmentContent{Description: "Answer all questions."}
	_, err := svc.SubmitContent(context.Background(), "a1", content, 1, academicClaims("checker"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	updated, err := svc.SubmitContent(context.Background(), "a1", content, 1, academicClaims("setter"))
	require.NoError(t, err)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "Answer all questions.", *updated.Description)

	// Once out of DRAFT the content is locked.
	store.assessments["a1"].CurrentState = models.StateReleased
	_, err = svc.SubmitContent(context.Background(), "a1", content, 0, academicClaims("setter"))
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrIllegalTransition.Code, appErr.Code)
}

func TestWorkflowSubmitContentLockedOutsideDraft(t *testing.T) {
	svc, store, _ := workflowFixture(t, models.AssessmentTypeCW)
	content := models.AssessmentContent{Description: "Revised paper."}

	// Requested changes do not reopen the content: the setter must pull
	// the assessment back to DRAFT first.
	for _, state := range []models.AssessmentState{
		models.StateReadyForCheck,
		models.StateChangesRequired,
		models.StateOnHold,
	} {
		store.assessments["a1"].CurrentState = state
		_, err := svc.SubmitContent(context.Background(), "a1", content, 0, academicClaims("setter"))
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr), "state %s", state)
		assert.Equal(t, appErrors.ErrIllegalTransition.Code, appErr.Code, "state %s", state)
	}

	store.assessments["a1"].CurrentState = models.StateDraft
	_, err := svc.SubmitContent(context.Background(), "a1", content, 0, academicClaims("setter"))
	require.NoError(t, err)
}

func TestWorkflowSystemProgress(t *testing.T) {
	svc, store, assessment := workflowFixture(t, models.AssessmentTypeExam)
	assessment = store.assessments["a1"]
	assessment.CurrentState = models.StateExamApproved

	clone := *assessment
	require.NoError(t, svc.SystemProgress(context.Background(), &clone, models.StateMarkingInProgress, "exam sitting complete"))
	assert.Equal(t, models.StateMarkingInProgress, store.assessments["a1"].CurrentState)
	require.Len(t, store.transitions["a1"], 1)
	assert.Nil(t, store.transitions["a1"][0].ActorID)
	assert.Equal(t, "system", store.transitions["a1"][0].ActorName)
}
