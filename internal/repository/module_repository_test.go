package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessflow/amt-api/internal/models"
)

func newModuleMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestModuleRepositoryGetByCode(t *testing.T) {
	db, mock, cleanup := newModuleMock(t)
	defer cleanup()
	repo := NewModuleRepository(db)

	rows := sqlmock.NewRows([]string{"id", "code", "title", "academic_year", "created_at", "updated_at"}).
		AddRow("m1", "COM1001", "Programming Fundamentals", "2026/27", time.Now(), time.Now())
	mock.ExpectQuery("FROM modules WHERE code").
		WithArgs("COM1001").
		WillReturnRows(rows)

	module, err := repo.GetByCode(context.Background(), "COM1001")
	require.NoError(t, err)
	assert.Equal(t, "m1", module.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModuleRepositoryGetByCodeMissing(t *testing.T) {
	db, mock, cleanup := newModuleMock(t)
	defer cleanup()
	repo := NewModuleRepository(db)

	mock.ExpectQuery("FROM modules WHERE code").
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByCode(context.Background(), "NOPE")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModuleRepositoryGetRoster(t *testing.T) {
	db, mock, cleanup := newModuleMock(t)
	defer cleanup()
	repo := NewModuleRepository(db)

	staff := sqlmock.NewRows([]string{"id", "module_id", "user_id", "user_name", "role", "created_at"}).
		AddRow("s1", "m1", "u1", "Ana Ruiz", models.ModuleRoleLead, time.Now()).
		AddRow("s2", "m1", "u2", "Ben Osei", models.ModuleRoleModerator, time.Now())
	mock.ExpectQuery("FROM module_staff_roles msr").
		WithArgs("m1").
		WillReturnRows(staff)

	examiners := sqlmock.NewRows([]string{"user_id"}).AddRow("ext1")
	mock.ExpectQuery("FROM module_external_examiners").
		WithArgs("m1").
		WillReturnRows(examiners)

	roster, err := repo.GetRoster(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, roster.HasRole("u1", models.ModuleRoleLead))
	assert.Equal(t, []string{"u2"}, roster.Moderators())
	assert.True(t, roster.IsExternalExaminer("ext1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModuleRepositoryModuleIDsForUser(t *testing.T) {
	db, mock, cleanup := newModuleMock(t)
	defer cleanup()
	repo := NewModuleRepository(db)

	rows := sqlmock.NewRows([]string{"module_id"}).AddRow("m1").AddRow("m2")
	mock.ExpectQuery("SELECT module_id FROM module_staff_roles").
		WithArgs("u1").
		WillReturnRows(rows)

	ids, err := repo.ModuleIDsForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
