package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type userStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	CountAcademicExamsOfficers(ctx context.Context) (int, error)
	SetExamsOfficer(ctx context.Context, id string, value bool, updatedAt time.Time) error
}

// UserService manages the user directory and the exams-officer capability.
type UserService struct {
	users  userStore
	audit  auditLogger
	logger *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(users userStore, audit auditLogger, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, audit: audit, logger: logger}
}

const tempPasswordChars = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const tempPasswordLength = 12

// generateTempPassword builds a random first-login password. Ambiguous
// characters are left out of the charset.
func generateTempPassword() (string, error) {
	buf := make([]byte, tempPasswordLength)
	max := big.NewInt(int64(len(tempPasswordChars)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i] = tempPasswordChars[n.Int64()]
	}
	return string(buf), nil
}

// Create registers a new user with a generated temporary password. The
// cleartext password is returned exactly once for out-of-band delivery.
func (s *UserService) Create(ctx context.Context, user *models.User, actor *models.JWTClaims) (string, error) {
	if actor == nil || !actor.IsAdminCapable() {
		return "", appErrors.Clone(appErrors.ErrForbidden, "creating users requires administrative capability")
	}
	switch user.BaseType {
	case models.BaseTypeAcademic, models.BaseTypeTeachingSupport, models.BaseTypeExternalExaminer:
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown base type %q", user.BaseType))
	}
	if user.BaseType != models.BaseTypeAcademic && user.ExamsOfficer {
		return "", appErrors.Clone(appErrors.ErrValidation, "only academics can hold the exams-officer capability")
	}
	if _, err := s.users.FindByEmail(ctx, user.Email); err == nil {
		return "", appErrors.Clone(appErrors.ErrConflict, "a user with this email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", appErrors.FromError(err)
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		return "", appErrors.FromError(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", appErrors.FromError(err)
	}
	user.PasswordHash = string(hash)
	user.Active = true

	if err := s.users.Create(ctx, user); err != nil {
		return "", appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionUserCreate, user.ID,
		fmt.Sprintf(`{"email":%q,"base_type":%q}`, user.Email, user.BaseType))
	return tempPassword, nil
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.FromError(err)
	}
	return user, nil
}

// List returns users matching the filter.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.FromError(err)
	}
	return users, total, nil
}

// SetExamsOfficer grants or revokes the exams-officer capability. Two
// invariants hold at all times: the system never drops to zero academic
// exams officers, and officers cannot demote themselves.
func (s *UserService) SetExamsOfficer(ctx context.Context, userID string, value bool, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdminCapable() {
		return appErrors.Clone(appErrors.ErrForbidden, "changing the exams-officer capability requires administrative capability")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.FromError(err)
	}
	if user.BaseType != models.BaseTypeAcademic {
		return appErrors.Clone(appErrors.ErrValidation, "only academics can hold the exams-officer capability")
	}
	if user.ExamsOfficer == value {
		return nil
	}

	if !value {
		if actor.UserID == userID {
			return appErrors.ErrSelfDemotion
		}
		count, err := s.users.CountAcademicExamsOfficers(ctx)
		if err != nil {
			return appErrors.FromError(err)
		}
		if count <= 1 {
			return appErrors.ErrLastExamsOfficer
		}
	}

	if err := s.users.SetExamsOfficer(ctx, userID, value, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.FromError(err)
	}

	s.emitAudit(ctx, actor, models.AuditActionExamsOfficerFlip, userID, fmt.Sprintf(`{"exams_officer":%t}`, value))
	return nil
}

func (s *UserService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, newValues string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "user",
		ResourceID: &resourceID,
		NewValues:  []byte(newValues),
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}
