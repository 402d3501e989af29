package handler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessflow/amt-api/internal/models"
)

func TestParseImportCSV(t *testing.T) {
	input := `COM1001,Software Engineering,Alice Smith,"Bob Jones, Carol White",cw,Essay,exam,Final
COM2002,Databases,Dan Brown,,test,Quiz
`
	rows, err := parseImportCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "COM1001", first.ModuleCode)
	assert.Equal(t, "Software Engineering", first.ModuleTitle)
	assert.Equal(t, "Alice Smith", first.ModuleLeadName)
	assert.Equal(t, []string{"Bob Jones", "Carol White"}, first.ModeratorNames)
	require.Len(t, first.Assessments, 2)
	assert.Equal(t, models.ImportAssessment{Type: "CW", Title: "Essay"}, first.Assessments[0])
	assert.Equal(t, models.ImportAssessment{Type: "EXAM", Title: "Final"}, first.Assessments[1])

	second := rows[1]
	assert.Empty(t, second.ModeratorNames)
	require.Len(t, second.Assessments, 1)
	assert.Equal(t, "TEST", second.Assessments[0].Type)
}

func TestParseImportCSVSkipsBlankLines(t *testing.T) {
	input := "COM1001,Title,Alice\n\nCOM2002,Other,Bob\n"
	rows, err := parseImportCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Empty(t, rows[0].Assessments)
}

func TestParseImportCSVIgnoresBlankTrailingPairs(t *testing.T) {
	// Spreadsheet exports pad short rows with empty cells.
	input := "COM1001,Title,Alice,,cw,Essay,,,,\n"
	rows, err := parseImportCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Assessments, 1)
	assert.Equal(t, models.ImportAssessment{Type: "CW", Title: "Essay"}, rows[0].Assessments[0])
}

func TestParseImportCSVRejectsDanglingAssessmentColumn(t *testing.T) {
	input := "COM1001,Title,Alice,,cw\n"
	_, err := parseImportCSV(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pairs")
}

func TestParseImportCSVRejectsShortRow(t *testing.T) {
	_, err := parseImportCSV(strings.NewReader("COM1001,Title\n"))
	require.Error(t, err)
}
