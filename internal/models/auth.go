package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	BaseType     UserBaseType `json:"base_type"`
	ExamsOfficer bool         `json:"exams_officer"`
}

// JWTClaims represents the JWT payload for access tokens. BaseType and
// ExamsOfficer are capabilities; assignment-derived roles are resolved per
// assessment, never baked into the token.
type JWTClaims struct {
	UserID       string       `json:"user_id"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	BaseType     UserBaseType `json:"base_type"`
	ExamsOfficer bool         `json:"exams_officer"`
	jwt.RegisteredClaims
}

// IsAdminCapable mirrors User.IsAdminCapable for token claims.
func (c *JWTClaims) IsAdminCapable() bool {
	if c == nil {
		return false
	}
	return c.BaseType == BaseTypeTeachingSupport || (c.BaseType == BaseTypeAcademic && c.ExamsOfficer)
}

// ViewMode is a per-request listing preference. Admin-capable users may drop
// to ViewOwn to see only their own modules; it narrows, never widens, what the
// caller's capabilities already authorize.
type ViewMode string

const (
	ViewAdmin ViewMode = "admin"
	ViewOwn   ViewMode = "own"
)

// ParseViewMode maps a query value onto a ViewMode, defaulting to admin view.
func ParseViewMode(raw string) ViewMode {
	if raw == string(ViewOwn) {
		return ViewOwn
	}
	return ViewAdmin
}
