package models

import "time"

// UserBaseType classifies users by their relationship to the institution.
type UserBaseType string

const (
	BaseTypeAcademic         UserBaseType = "ACADEMIC"
	BaseTypeTeachingSupport  UserBaseType = "TEACHING_SUPPORT"
	BaseTypeExternalExaminer UserBaseType = "EXTERNAL_EXAMINER"
)

// User represents an application user stored in the users table. The
// examsOfficer flag is an authorization capability; assignment-derived roles
// (SETTER, CHECKER, ...) live on assessments and modules, never here.
type User struct {
	ID           string       `db:"id" json:"id"`
	Email        string       `db:"email" json:"email"`
	PasswordHash string       `db:"password_hash" json:"-"`
	Name         string       `db:"name" json:"name"`
	BaseType     UserBaseType `db:"base_type" json:"base_type"`
	ExamsOfficer bool         `db:"exams_officer" json:"exams_officer"`
	Active       bool         `db:"active" json:"active"`
	LastLogin    *time.Time   `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// IsAdminCapable reports whether the user may use the all-modules admin view
// and administrative overrides.
func (u *User) IsAdminCapable() bool {
	if u == nil {
		return false
	}
	return u.BaseType == BaseTypeTeachingSupport || (u.BaseType == BaseTypeAcademic && u.ExamsOfficer)
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	BaseType     *UserBaseType
	ExamsOfficer *bool
	Active       *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
