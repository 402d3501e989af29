package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type visibilityStub struct {
	visible      []string
	unrestricted bool
}

func (s *visibilityStub) VisibleModuleIDs(ctx context.Context, actor *models.JWTClaims, view models.ViewMode) ([]string, bool, error) {
	if actor != nil && actor.IsAdminCapable() && view != models.ViewOwn {
		return nil, true, nil
	}
	return s.visible, s.unrestricted, nil
}

func (s *visibilityStub) CanSeeModule(ctx context.Context, actor *models.JWTClaims, moduleID string) (bool, error) {
	if actor != nil && actor.IsAdminCapable() {
		return true, nil
	}
	for _, id := range s.visible {
		if id == moduleID {
			return true, nil
		}
	}
	return false, nil
}

func assessmentFixture(t *testing.T, scope *visibilityStub) (*AssessmentService, *assessmentStoreStub) {
	t.Helper()
	store := newAssessmentStoreStub()
	modules := newModuleStoreStub()
	users := newUserStoreStub()

	modules.modules["m1"] = &models.Module{ID: "m1", Code: "COM1001", Title: "Software Engineering", AcademicYear: "2026/27"}
	modules.rosters["m1"] = &models.ModuleRoster{
		ModuleID: "m1",
		Staff: []models.ModuleStaffRole{
			{ModuleID: "m1", UserID: "lead", Role: models.ModuleRoleLead},
			{ModuleID: "m1", UserID: "mod", Role: models.ModuleRoleModerator},
		},
	}
	users.users["mod"] = &models.User{ID: "mod", Name: "Moderator", BaseType: models.BaseTypeAcademic, Active: true}

	workflow := NewWorkflowService(store, modules, users, nil, nil, nil)
	eligibility := NewEligibilityService(store, modules, users, nil, nil, nil)
	svc := NewAssessmentService(store, modules, scope, workflow, eligibility, &auditStub{}, nil)
	return svc, store
}

func TestAssessmentCreateStartsInDraft(t *testing.T) {
	svc, _ := assessmentFixture(t, &visibilityStub{})

	created, err := svc.Create(context.Background(), "m1", "Essay", models.AssessmentTypeCW, nil, supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, models.StateDraft, created.CurrentState)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "m1", created.ModuleID)
}

func TestAssessmentCreateByModuleLead(t *testing.T) {
	svc, _ := assessmentFixture(t, &visibilityStub{})

	_, err := svc.Create(context.Background(), "m1", "Essay", models.AssessmentTypeCW, nil, academicClaims("lead"))
	require.NoError(t, err)
}

func TestAssessmentCreateAutoAssignsModeratorChecker(t *testing.T) {
	svc, store := assessmentFixture(t, &visibilityStub{})

	created, err := svc.Create(context.Background(), "m1", "Essay", models.AssessmentTypeCW, nil, supportClaims("admin"))
	require.NoError(t, err)

	assignments := store.assignments[created.ID]
	require.Len(t, assignments, 1)
	assert.Equal(t, "mod", assignments[0].UserID)
	assert.Equal(t, models.AssessmentRoleChecker, assignments[0].Role)
	assert.True(t, assignments[0].AutoAssigned)
}

func TestAssessmentCreateRejectsNonLead(t *testing.T) {
	svc, _ := assessmentFixture(t, &visibilityStub{})

	_, err := svc.Create(context.Background(), "m1", "Essay", models.AssessmentTypeCW, nil, academicClaims("outsider"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAssessmentCreateRejectsExamDateOnCoursework(t *testing.T) {
	svc, _ := assessmentFixture(t, &visibilityStub{})

	when := time.Now().Add(48 * time.Hour)
	_, err := svc.Create(context.Background(), "m1", "Essay", models.AssessmentTypeCW, &when, supportClaims("admin"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssessmentListHonoursScope(t *testing.T) {
	scope := &visibilityStub{visible: []string{"m1"}}
	svc, store := assessmentFixture(t, scope)

	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "a1", ModuleID: "m1", Title: "In scope", Type: models.AssessmentTypeCW}))
	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "a2", ModuleID: "m2", Title: "Out of scope", Type: models.AssessmentTypeCW}))

	listed, total, err := svc.List(context.Background(), models.AssessmentFilter{}, models.ViewAdmin, academicClaims("staff"))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, listed, 1)
	assert.Equal(t, "a1", listed[0].ID)

	// Asking for a module outside the caller's scope yields an empty page.
	listed, total, err = svc.List(context.Background(), models.AssessmentFilter{ModuleIDs: []string{"m2"}}, models.ViewAdmin, academicClaims("staff"))
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, listed)
}

func TestAssessmentListOwnViewNarrowsAdmin(t *testing.T) {
	scope := &visibilityStub{visible: []string{"m1"}}
	svc, store := assessmentFixture(t, scope)

	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "a1", ModuleID: "m1", Title: "Mine", Type: models.AssessmentTypeCW}))
	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "a2", ModuleID: "m2", Title: "Elsewhere", Type: models.AssessmentTypeCW}))

	// In own view an admin-capable caller is scoped like everyone else.
	listed, total, err := svc.List(context.Background(), models.AssessmentFilter{}, models.ViewOwn, supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, listed, 1)
	assert.Equal(t, "a1", listed[0].ID)
}

func TestAssessmentGetOutOfScopeReadsAsNotFound(t *testing.T) {
	svc, store := assessmentFixture(t, &visibilityStub{})

	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "a1", ModuleID: "m1", Title: "Hidden", Type: models.AssessmentTypeCW}))

	_, err := svc.Get(context.Background(), "a1", academicClaims("outsider"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssessmentGetReturnsRolesAndTargets(t *testing.T) {
	svc, store := assessmentFixture(t, &visibilityStub{})

	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "a1", ModuleID: "m1", Title: "Essay", Type: models.AssessmentTypeCW}))
	require.NoError(t, store.AssignRole(context.Background(), &models.AssessmentRoleAssignment{AssessmentID: "a1", UserID: "setter", Role: models.AssessmentRoleSetter}))

	detail, err := svc.Get(context.Background(), "a1", supportClaims("admin"))
	require.NoError(t, err)
	require.Len(t, detail.Roles, 1)
	assert.Equal(t, models.AssessmentRoleSetter, detail.Roles[0].Role)
	assert.NotNil(t, detail.Assessment)
}

func TestAssessmentSetExamDate(t *testing.T) {
	svc, store := assessmentFixture(t, &visibilityStub{})

	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "e1", ModuleID: "m1", Title: "Final", Type: models.AssessmentTypeExam}))

	when := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	updated, err := svc.SetExamDate(context.Background(), "e1", when, 1, officerClaims("eo"))
	require.NoError(t, err)
	require.NotNil(t, updated.ExamDate)
	assert.Equal(t, when, *updated.ExamDate)
	assert.Equal(t, int64(2), updated.Version)

	_, err = svc.SetExamDate(context.Background(), "e1", when.Add(24*time.Hour), 1, officerClaims("eo"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConcurrentModification.Code, appErrors.FromError(err).Code)
}

func TestAssessmentSetExamDateRequiresExamsOfficer(t *testing.T) {
	svc, store := assessmentFixture(t, &visibilityStub{})

	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "e1", ModuleID: "m1", Title: "Final", Type: models.AssessmentTypeExam}))

	_, err := svc.SetExamDate(context.Background(), "e1", time.Now(), 1, supportClaims("admin"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAssessmentSetExamDateRejectsCoursework(t *testing.T) {
	svc, store := assessmentFixture(t, &visibilityStub{})

	require.NoError(t, store.Create(context.Background(), &models.Assessment{ID: "a1", ModuleID: "m1", Title: "Essay", Type: models.AssessmentTypeCW}))

	_, err := svc.SetExamDate(context.Background(), "a1", time.Now(), 1, officerClaims("eo"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
