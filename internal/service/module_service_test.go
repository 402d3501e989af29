package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

// moduleDirStub is an in-memory moduleStore for roster tests.
type moduleDirStub struct {
	modules map[string]*models.Module
	rosters map[string]*models.ModuleRoster
}

func newModuleDirStub() *moduleDirStub {
	return &moduleDirStub{
		modules: make(map[string]*models.Module),
		rosters: make(map[string]*models.ModuleRoster),
	}
}

func (s *moduleDirStub) Create(ctx context.Context, module *models.Module) error {
	if module.ID == "" {
		module.ID = uuid.NewString()
	}
	clone := *module
	s.modules[module.ID] = &clone
	return nil
}

func (s *moduleDirStub) GetByID(ctx context.Context, id string) (*models.Module, error) {
	if module, ok := s.modules[id]; ok {
		clone := *module
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (s *moduleDirStub) GetByCode(ctx context.Context, code string) (*models.Module, error) {
	for _, module := range s.modules {
		if module.Code == code {
			clone := *module
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *moduleDirStub) UpdateTitle(ctx context.Context, id, title string) error {
	module, ok := s.modules[id]
	if !ok {
		return sql.ErrNoRows
	}
	module.Title = title
	return nil
}

func (s *moduleDirStub) List(ctx context.Context, filter models.ModuleFilter) ([]models.Module, int, error) {
	var result []models.Module
	for _, module := range s.modules {
		result = append(result, *module)
	}
	return result, len(result), nil
}

func (s *moduleDirStub) GetRoster(ctx context.Context, moduleID string) (*models.ModuleRoster, error) {
	if roster, ok := s.rosters[moduleID]; ok {
		return roster, nil
	}
	return &models.ModuleRoster{ModuleID: moduleID}, nil
}

func (s *moduleDirStub) AddStaffRole(ctx context.Context, entry *models.ModuleStaffRole) error {
	roster, ok := s.rosters[entry.ModuleID]
	if !ok {
		roster = &models.ModuleRoster{ModuleID: entry.ModuleID}
		s.rosters[entry.ModuleID] = roster
	}
	for _, existing := range roster.Staff {
		if existing.UserID == entry.UserID && existing.Role == entry.Role {
			return nil
		}
	}
	roster.Staff = append(roster.Staff, *entry)
	return nil
}

func (s *moduleDirStub) RemoveStaffRole(ctx context.Context, moduleID, userID string, role models.ModuleRole) error {
	roster, ok := s.rosters[moduleID]
	if !ok {
		return sql.ErrNoRows
	}
	for i, entry := range roster.Staff {
		if entry.UserID == userID && entry.Role == role {
			roster.Staff = append(roster.Staff[:i], roster.Staff[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *moduleDirStub) AddExternalExaminer(ctx context.Context, moduleID, userID string) error {
	roster, ok := s.rosters[moduleID]
	if !ok {
		roster = &models.ModuleRoster{ModuleID: moduleID}
		s.rosters[moduleID] = roster
	}
	roster.ExternalExaminers = append(roster.ExternalExaminers, userID)
	return nil
}

func (s *moduleDirStub) RemoveExternalExaminer(ctx context.Context, moduleID, userID string) error {
	roster, ok := s.rosters[moduleID]
	if !ok {
		return sql.ErrNoRows
	}
	for i, id := range roster.ExternalExaminers {
		if id == userID {
			roster.ExternalExaminers = append(roster.ExternalExaminers[:i], roster.ExternalExaminers[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func moduleFixture(t *testing.T) (*ModuleService, *moduleDirStub) {
	t.Helper()
	modules := newModuleDirStub()
	users := newUserStoreStub()

	modules.modules["m1"] = &models.Module{ID: "m1", Code: "COM1001", Title: "Software Engineering", AcademicYear: "2026/27"}
	modules.rosters["m1"] = &models.ModuleRoster{
		ModuleID: "m1",
		Staff: []models.ModuleStaffRole{
			{ModuleID: "m1", UserID: "lead", Role: models.ModuleRoleLead},
			{ModuleID: "m1", UserID: "mod", Role: models.ModuleRoleModerator},
		},
	}
	users.users["lead"] = &models.User{ID: "lead", Name: "Lead", BaseType: models.BaseTypeAcademic, Active: true}
	users.users["mod"] = &models.User{ID: "mod", Name: "Moderator", BaseType: models.BaseTypeAcademic, Active: true}
	users.users["next"] = &models.User{ID: "next", Name: "Next Lead", BaseType: models.BaseTypeAcademic, Active: true}

	svc := NewModuleService(modules, users, nil, &scopeStub{}, &auditStub{}, nil)
	return svc, modules
}

func TestAddLeadDisplacesExistingLead(t *testing.T) {
	svc, modules := moduleFixture(t)

	require.NoError(t, svc.AddStaffRole(context.Background(), "m1", "next", models.ModuleRoleLead, supportClaims("admin")))

	var leads []string
	for _, entry := range modules.rosters["m1"].Staff {
		if entry.Role == models.ModuleRoleLead {
			leads = append(leads, entry.UserID)
		}
	}
	assert.Equal(t, []string{"next"}, leads)
}

func TestAddStaffRoleRejectsLeadModeratorOverlap(t *testing.T) {
	svc, modules := moduleFixture(t)

	err := svc.AddStaffRole(context.Background(), "m1", "mod", models.ModuleRoleLead, supportClaims("admin"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrRoleConflict.Code, appErr.Code)

	err = svc.AddStaffRole(context.Background(), "m1", "lead", models.ModuleRoleModerator, supportClaims("admin"))
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrRoleConflict.Code, appErr.Code)

	// The roster is untouched by either rejection.
	assert.Len(t, modules.rosters["m1"].Staff, 2)
}

func TestAddStaffRoleRequiresAdminCapability(t *testing.T) {
	svc, _ := moduleFixture(t)

	err := svc.AddStaffRole(context.Background(), "m1", "next", models.ModuleRoleStaff, academicClaims("lead"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}
