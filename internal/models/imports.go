package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ImportRow is one already-parsed tabular row of a bulk import. CSV
// tokenisation happens upstream; the orchestrator only sees structured rows.
type ImportRow struct {
	ModuleCode     string             `json:"module_code" binding:"required"`
	ModuleTitle    string             `json:"module_title" binding:"required"`
	ModuleLeadName string             `json:"module_lead" binding:"required"`
	ModeratorNames []string           `json:"moderators,omitempty"`
	Assessments    []ImportAssessment `json:"assessments,omitempty"`
}

// ImportAssessment is a trailing (type, title) pair of an import row.
type ImportAssessment struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// RowStatus classifies the outcome of a single import row.
type RowStatus string

const (
	RowStatusOK    RowStatus = "ok"
	RowStatusError RowStatus = "error"
)

// RowResult reports what happened to one row.
type RowResult struct {
	Index    int       `json:"index"`
	Status   RowStatus `json:"status"`
	Messages []string  `json:"messages,omitempty"`
}

// ImportReport is the structured outcome of a bulk import run. Rows fail
// independently; the report is returned even when every row errors.
type ImportReport struct {
	SuccessCount    int         `json:"success_count"`
	ModulesCreated  int         `json:"modules_created"`
	AssessmentsMade int         `json:"assessments_created"`
	Rows            []RowResult `json:"rows"`
}

// ImportJobStatus tracks a persisted import run.
type ImportJobStatus string

const (
	ImportJobRunning            ImportJobStatus = "RUNNING"
	ImportJobCompleted          ImportJobStatus = "COMPLETED"
	ImportJobCompletedWithError ImportJobStatus = "COMPLETED_WITH_ERRORS"
)

// ImportJob records one bulk import run for later inspection.
type ImportJob struct {
	ID         string          `db:"id" json:"id"`
	Status     ImportJobStatus `db:"status" json:"status"`
	RowCount   int             `db:"row_count" json:"row_count"`
	Report     ImportJobReport `db:"report" json:"report"`
	CreatedBy  string          `db:"created_by" json:"created_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// ImportJobReport wraps ImportReport for JSONB persistence.
type ImportJobReport struct {
	ImportReport
}

// Value marshals the report to JSON for persistence.
func (r ImportJobReport) Value() (driver.Value, error) {
	data, err := json.Marshal(r.ImportReport)
	if err != nil {
		return nil, fmt.Errorf("marshal import report: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the report struct.
func (r *ImportJobReport) Scan(value interface{}) error {
	if value == nil {
		*r = ImportJobReport{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ImportJobReport", value)
	}
	if len(data) == 0 {
		*r = ImportJobReport{}
		return nil
	}
	if err := json.Unmarshal(data, &r.ImportReport); err != nil {
		return fmt.Errorf("unmarshal import report: %w", err)
	}
	return nil
}
