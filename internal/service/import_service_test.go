package service

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
	"github.com/assessflow/amt-api/internal/repository"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

func importFixture(t *testing.T) (*ImportService, sqlmock.Sqlmock, func()) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	db := sqlx.NewDb(rawDB, "sqlmock")

	svc := NewImportService(
		db,
		repository.NewModuleRepository(db),
		repository.NewAssessmentRepository(db),
		repository.NewUserRepository(db),
		nil,
		nil,
		nil,
		10,
		nil,
	)
	return svc, mock, func() { rawDB.Close() }
}

func importUserRow(id, name string, baseType models.UserBaseType) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "password_hash", "name", "base_type", "exams_officer", "active", "last_login", "created_at", "updated_at"}).
		AddRow(id, id+"@uni.ac.uk", "hash", name, baseType, false, true, nil, time.Now(), time.Now())
}

func TestImportRunCreatesModuleAndAssessments(t *testing.T) {
	svc, mock, cleanup := importFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Lena Marsh").
		WillReturnRows(importUserRow("lead1", "Lena Marsh", models.BaseTypeAcademic))
	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Omar Shah").
		WillReturnRows(importUserRow("mod1", "Omar Shah", models.BaseTypeAcademic))

	mock.ExpectBegin()
	mock.ExpectQuery("FROM modules WHERE code").
		WithArgs("COM1001").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO modules").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO module_staff_roles").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO module_staff_roles").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO assessments").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO assessment_role_assignments").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	rows := []models.ImportRow{{
		ModuleCode:     "COM1001",
		ModuleTitle:    "Programming Fundamentals",
		ModuleLeadName: "Lena Marsh",
		ModeratorNames: []string{"Omar Shah"},
		Assessments: []models.ImportAssessment{
			{Type: "CW", Title: "Essay 1"},
			{Type: "EXAM", Title: "Final Exam"},
		},
	}}

	report, err := svc.Run(context.Background(), rows, "2026/27", supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 1, report.ModulesCreated)
	assert.Equal(t, 2, report.AssessmentsMade)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, models.RowStatusOK, report.Rows[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRunIsolatesFailingRows(t *testing.T) {
	svc, mock, cleanup := importFixture(t)
	defer cleanup()

	// First row: lead does not exist, no transaction is even opened.
	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Nobody Known").
		WillReturnError(sql.ErrNoRows)

	// Second row resolves and commits normally.
	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Lena Marsh").
		WillReturnRows(importUserRow("lead1", "Lena Marsh", models.BaseTypeAcademic))
	mock.ExpectBegin()
	mock.ExpectQuery("FROM modules WHERE code").
		WithArgs("COM2002").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO modules").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO module_staff_roles").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rows := []models.ImportRow{
		{ModuleCode: "COM9999", ModuleTitle: "Ghost Module", ModuleLeadName: "Nobody Known"},
		{ModuleCode: "COM2002", ModuleTitle: "Data Structures", ModuleLeadName: "Lena Marsh"},
	}

	report, err := svc.Run(context.Background(), rows, "2026/27", supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, models.RowStatusError, report.Rows[0].Status)
	assert.Contains(t, report.Rows[0].Messages[0], "Nobody Known")
	assert.Equal(t, models.RowStatusOK, report.Rows[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRunSkipsUnresolvedModerator(t *testing.T) {
	svc, mock, cleanup := importFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Lena Marsh").
		WillReturnRows(importUserRow("lead1", "Lena Marsh", models.BaseTypeAcademic))
	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Ghost Moderator").
		WillReturnError(sql.ErrNoRows)

	// The row still commits: module plus lead, no moderator, and the
	// blank trailing pair creates nothing.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM modules WHERE code").
		WithArgs("COM3003").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO modules").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO module_staff_roles").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rows := []models.ImportRow{{
		ModuleCode:     "COM3003",
		ModuleTitle:    "Compilers",
		ModuleLeadName: "Lena Marsh",
		ModeratorNames: []string{"Ghost Moderator"},
		Assessments:    []models.ImportAssessment{{Type: "", Title: ""}},
	}}

	report, err := svc.Run(context.Background(), rows, "2026/27", supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 1, report.ModulesCreated)
	assert.Zero(t, report.AssessmentsMade)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, models.RowStatusOK, report.Rows[0].Status)
	require.Len(t, report.Rows[0].Messages, 1)
	assert.Contains(t, report.Rows[0].Messages[0], "Ghost Moderator")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportReimportReplacesLead(t *testing.T) {
	svc, mock, cleanup := importFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Priya Nair").
		WillReturnRows(importUserRow("lead2", "Priya Nair", models.BaseTypeAcademic))

	mock.ExpectBegin()
	mock.ExpectQuery("FROM modules WHERE code").
		WithArgs("COM2002").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "title", "academic_year", "created_at", "updated_at"}).
			AddRow("mod-1", "COM2002", "Data Structures", "2026/27", time.Now(), time.Now()))
	mock.ExpectQuery("FROM module_staff_roles msr").
		WithArgs("mod-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "module_id", "user_id", "user_name", "role", "created_at"}).
			AddRow("sr-1", "mod-1", "lead1", "Lena Marsh", "MODULE_LEAD", time.Now()))
	mock.ExpectQuery("FROM module_external_examiners").
		WithArgs("mod-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectExec("DELETE FROM module_staff_roles").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO module_staff_roles").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rows := []models.ImportRow{{
		ModuleCode:     "COM2002",
		ModuleTitle:    "Data Structures",
		ModuleLeadName: "Priya Nair",
	}}

	report, err := svc.Run(context.Background(), rows, "2026/27", supportClaims("admin"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Zero(t, report.ModulesCreated)
	assert.Equal(t, models.RowStatusOK, report.Rows[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRejectsLeadNamedAsModerator(t *testing.T) {
	svc, mock, cleanup := importFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Lena Marsh").
		WillReturnRows(importUserRow("lead1", "Lena Marsh", models.BaseTypeAcademic))
	mock.ExpectQuery("FROM users WHERE name").
		WithArgs("Lena Marsh").
		WillReturnRows(importUserRow("lead1", "Lena Marsh", models.BaseTypeAcademic))

	rows := []models.ImportRow{{
		ModuleCode:     "COM4004",
		ModuleTitle:    "Networks",
		ModuleLeadName: "Lena Marsh",
		ModeratorNames: []string{"Lena Marsh"},
	}}

	report, err := svc.Run(context.Background(), rows, "2026/27", supportClaims("admin"))
	require.NoError(t, err)
	assert.Zero(t, report.SuccessCount)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, models.RowStatusError, report.Rows[0].Status)
	assert.Contains(t, report.Rows[0].Messages[0], "both module lead and moderator")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlankTrailingAssessmentPairsArePruned(t *testing.T) {
	pruned := pruneAssessments([]models.ImportAssessment{
		{Type: "CW", Title: "Essay 1"},
		{},
		{Type: " ", Title: ""},
	})
	require.Len(t, pruned, 1)
	assert.Equal(t, "Essay 1", pruned[0].Title)
	assert.Empty(t, validateRow(models.ImportRow{
		ModuleCode:     "COM1001",
		ModuleTitle:    "Programming",
		ModuleLeadName: "Lena Marsh",
		Assessments:    pruned,
	}))
}

func TestImportRunRejectsBadInput(t *testing.T) {
	svc, _, cleanup := importFixture(t)
	defer cleanup()

	_, err := svc.Run(context.Background(), nil, "2026/27", supportClaims("admin"))
	assert.Error(t, err)

	_, err = svc.Run(context.Background(), make([]models.ImportRow, 11), "2026/27", supportClaims("admin"))
	assert.Error(t, err)

	_, err = svc.Run(context.Background(), make([]models.ImportRow, 1), "2026/27", academicClaims("plain"))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestValidateRowFlagsUnknownAssessmentType(t *testing.T) {
	messages := validateRow(models.ImportRow{
		ModuleCode:     "COM1001",
		ModuleTitle:    "Programming",
		ModuleLeadName: "Lena Marsh",
		Assessments:    []models.ImportAssessment{{Type: "QUIZ", Title: "Quiz 1"}},
	})
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "QUIZ")
}
