package models

import "time"

// AssessmentType fixes the flow family at creation time and never changes.
type AssessmentType string

const (
	AssessmentTypeCW   AssessmentType = "CW"
	AssessmentTypeTest AssessmentType = "TEST"
	AssessmentTypeExam AssessmentType = "EXAM"
)

// AssessmentRole enumerates assessment-level role assignments.
type AssessmentRole string

const (
	AssessmentRoleSetter  AssessmentRole = "SETTER"
	AssessmentRoleChecker AssessmentRole = "CHECKER"
)

// Assessment is a single piece of assessed work moving through the workflow.
// Version backs optimistic concurrency: every state or content write checks
// and bumps it.
type Assessment struct {
	ID           string          `db:"id" json:"id"`
	ModuleID     string          `db:"module_id" json:"module_id"`
	Title        string          `db:"title" json:"title"`
	Type         AssessmentType  `db:"type" json:"type"`
	CurrentState AssessmentState `db:"current_state" json:"current_state"`
	// PriorState holds the pre-hold state while CurrentState is ON_HOLD.
	PriorState  *AssessmentState `db:"prior_state" json:"prior_state,omitempty"`
	ExamDate    *time.Time       `db:"exam_date" json:"exam_date,omitempty"`
	Description *string          `db:"description" json:"description,omitempty"`
	FileName    *string          `db:"file_name" json:"file_name,omitempty"`
	FileURL     *string          `db:"file_url" json:"file_url,omitempty"`
	Version     int64            `db:"version" json:"version"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// Family returns the flow family governing this assessment.
func (a *Assessment) Family() FlowFamily {
	return FamilyFor(a.Type)
}

// AssessmentRoleAssignment links a user to an assessment-level role.
type AssessmentRoleAssignment struct {
	ID           string         `db:"id" json:"id"`
	AssessmentID string         `db:"assessment_id" json:"assessment_id"`
	UserID       string         `db:"user_id" json:"user_id"`
	UserName     string         `db:"user_name" json:"user_name,omitempty"`
	Role         AssessmentRole `db:"role" json:"role"`
	// AutoAssigned marks moderator-propagated CHECKER rows; explicit
	// assignments are never silently overwritten, auto ones may be replaced.
	AutoAssigned bool      `db:"auto_assigned" json:"auto_assigned"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AssessmentContent is the opaque payload a setter submits while in DRAFT.
type AssessmentContent struct {
	Description string  `json:"description" binding:"required"`
	FileName    *string `json:"file_name,omitempty"`
	FileURL     *string `json:"file_url,omitempty"`
}

// AssessmentFilter constrains assessment listing queries.
type AssessmentFilter struct {
	ModuleIDs []string
	States    []AssessmentState
	Type      *AssessmentType
	Page      int
	PageSize  int
}
