package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type directoryStub struct {
	users map[string]*models.User
}

func newDirectoryStub() *directoryStub {
	return &directoryStub{users: make(map[string]*models.User)}
}

func (d *directoryStub) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	d.users[user.ID] = user
	return nil
}

func (d *directoryStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := d.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (d *directoryStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range d.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (d *directoryStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	result := make([]models.User, 0, len(d.users))
	for _, user := range d.users {
		result = append(result, *user)
	}
	return result, len(result), nil
}

func (d *directoryStub) CountAcademicExamsOfficers(ctx context.Context) (int, error) {
	count := 0
	for _, user := range d.users {
		if user.BaseType == models.BaseTypeAcademic && user.ExamsOfficer && user.Active {
			count++
		}
	}
	return count, nil
}

func (d *directoryStub) SetExamsOfficer(ctx context.Context, id string, value bool, updatedAt time.Time) error {
	user, ok := d.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.ExamsOfficer = value
	return nil
}

func userFixture(t *testing.T) (*UserService, *directoryStub) {
	t.Helper()
	directory := newDirectoryStub()
	directory.users["eo1"] = &models.User{ID: "eo1", Email: "eo1@uni.ac.uk", Name: "Officer One", BaseType: models.BaseTypeAcademic, ExamsOfficer: true, Active: true}
	directory.users["eo2"] = &models.User{ID: "eo2", Email: "eo2@uni.ac.uk", Name: "Officer Two", BaseType: models.BaseTypeAcademic, ExamsOfficer: true, Active: true}
	directory.users["plain"] = &models.User{ID: "plain", Email: "plain@uni.ac.uk", Name: "Plain", BaseType: models.BaseTypeAcademic, Active: true}
	directory.users["support"] = &models.User{ID: "support", Email: "support@uni.ac.uk", Name: "Support", BaseType: models.BaseTypeTeachingSupport, Active: true}
	return NewUserService(directory, &auditStub{}, nil), directory
}

func TestUserCreateReturnsTempPassword(t *testing.T) {
	svc, directory := userFixture(t)

	user := &models.User{Email: "new@uni.ac.uk", Name: "New Academic", BaseType: models.BaseTypeAcademic}
	tempPassword, err := svc.Create(context.Background(), user, supportClaims("admin"))
	require.NoError(t, err)
	assert.Len(t, tempPassword, tempPasswordLength)

	stored := directory.users[user.ID]
	require.NotNil(t, stored)
	assert.True(t, stored.Active)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(tempPassword)))
}

func TestUserCreateRejectsDuplicateEmail(t *testing.T) {
	svc, _ := userFixture(t)

	user := &models.User{Email: "plain@uni.ac.uk", Name: "Duplicate", BaseType: models.BaseTypeAcademic}
	_, err := svc.Create(context.Background(), user, supportClaims("admin"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestSetExamsOfficerGrant(t *testing.T) {
	svc, directory := userFixture(t)

	require.NoError(t, svc.SetExamsOfficer(context.Background(), "plain", true, supportClaims("admin")))
	assert.True(t, directory.users["plain"].ExamsOfficer)
}

func TestSetExamsOfficerRejectsNonAcademic(t *testing.T) {
	svc, _ := userFixture(t)

	err := svc.SetExamsOfficer(context.Background(), "support", true, supportClaims("admin"))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestSetExamsOfficerForbidsSelfDemotion(t *testing.T) {
	svc, _ := userFixture(t)

	err := svc.SetExamsOfficer(context.Background(), "eo1", false, officerClaims("eo1"))
	assert.ErrorIs(t, err, appErrors.ErrSelfDemotion)
}

func TestSetExamsOfficerKeepsLastOfficer(t *testing.T) {
	svc, directory := userFixture(t)

	// Two officers: demoting one is fine.
	require.NoError(t, svc.SetExamsOfficer(context.Background(), "eo2", false, officerClaims("eo1")))
	assert.False(t, directory.users["eo2"].ExamsOfficer)

	// Down to one: the system must never lose its last academic officer.
	err := svc.SetExamsOfficer(context.Background(), "eo1", false, supportClaims("admin"))
	assert.ErrorIs(t, err, appErrors.ErrLastExamsOfficer)
}
