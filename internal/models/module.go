package models

import "time"

// ModuleRole enumerates staff roster roles on a module.
type ModuleRole string

const (
	ModuleRoleLead      ModuleRole = "MODULE_LEAD"
	ModuleRoleModerator ModuleRole = "MODERATOR"
	ModuleRoleStaff     ModuleRole = "STAFF"
)

// Module is a taught unit owning assessments and a staff roster.
type Module struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Title        string    `db:"title" json:"title"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ModuleStaffRole is one (user, role) entry of a module's staff roster.
type ModuleStaffRole struct {
	ID        string     `db:"id" json:"id"`
	ModuleID  string     `db:"module_id" json:"module_id"`
	UserID    string     `db:"user_id" json:"user_id"`
	UserName  string     `db:"user_name" json:"user_name,omitempty"`
	Role      ModuleRole `db:"role" json:"role"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// ModuleExternalExaminer attaches an external examiner directly to a module,
// outside the staff roster.
type ModuleExternalExaminer struct {
	ModuleID  string    `db:"module_id" json:"module_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ModuleRoster aggregates a module's staff and external examiner sets as the
// eligibility rules consume them: a point-in-time snapshot, never live state.
type ModuleRoster struct {
	ModuleID          string
	Staff             []ModuleStaffRole
	ExternalExaminers []string
}

// RolesOf returns the roster roles a user holds on the module.
func (r *ModuleRoster) RolesOf(userID string) []ModuleRole {
	var roles []ModuleRole
	for _, entry := range r.Staff {
		if entry.UserID == userID {
			roles = append(roles, entry.Role)
		}
	}
	return roles
}

// HasRole reports whether the user holds the given roster role.
func (r *ModuleRoster) HasRole(userID string, role ModuleRole) bool {
	for _, entry := range r.Staff {
		if entry.UserID == userID && entry.Role == role {
			return true
		}
	}
	return false
}

// OnRoster reports whether the user appears on the staff roster at all.
func (r *ModuleRoster) OnRoster(userID string) bool {
	return len(r.RolesOf(userID)) > 0
}

// IsExternalExaminer reports membership of the module's external examiner set.
func (r *ModuleRoster) IsExternalExaminer(userID string) bool {
	for _, id := range r.ExternalExaminers {
		if id == userID {
			return true
		}
	}
	return false
}

// Moderators returns the user ids holding MODERATOR, in roster order.
func (r *ModuleRoster) Moderators() []string {
	var ids []string
	for _, entry := range r.Staff {
		if entry.Role == ModuleRoleModerator {
			ids = append(ids, entry.UserID)
		}
	}
	return ids
}

// ModuleFilter constrains module listing queries.
type ModuleFilter struct {
	IDs          []string
	Codes        []string
	AcademicYear string
	Search       string
	Page         int
	PageSize     int
}
