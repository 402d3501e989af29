package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
)

type scopeModuleStore interface {
	ModuleIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type scopeCache interface {
	GetScope(ctx context.Context, userID string) ([]string, bool, error)
	SetScope(ctx context.Context, userID string, moduleIDs []string, ttl time.Duration) error
	InvalidateScope(ctx context.Context, userID string) error
}

// ScopeService resolves which modules a user may see. Admin-capable users are
// unrestricted; everyone else sees modules they touch through roster
// membership, examiner attachment or an assessment role. Results are cached
// in Redis and invalidated by role mutations.
type ScopeService struct {
	modules scopeModuleStore
	cache   scopeCache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewScopeService constructs the service.
func NewScopeService(modules scopeModuleStore, cache scopeCache, ttl time.Duration, logger *zap.Logger) *ScopeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ScopeService{modules: modules, cache: cache, ttl: ttl, logger: logger}
}

// VisibleModuleIDs returns the module ids the actor may see. The second
// return is true when the actor is unrestricted, in which case the id slice
// is nil and callers must not filter. The view mode only ever narrows: an
// admin-capable actor in own view sees their own modules, while admin view on
// anyone else still resolves the restricted set.
func (s *ScopeService) VisibleModuleIDs(ctx context.Context, actor *models.JWTClaims, view models.ViewMode) ([]string, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if actor.IsAdminCapable() && view != models.ViewOwn {
		return nil, true, nil
	}

	if s.cache != nil {
		if ids, hit, err := s.cache.GetScope(ctx, actor.UserID); err != nil {
			s.logger.Warn("scope cache read failed", zap.String("user_id", actor.UserID), zap.Error(err))
		} else if hit {
			return ids, false, nil
		}
	}

	ids, err := s.modules.ModuleIDsForUser(ctx, actor.UserID)
	if err != nil {
		return nil, false, appErrors.FromError(err)
	}
	if ids == nil {
		ids = []string{}
	}

	if s.cache != nil {
		if err := s.cache.SetScope(ctx, actor.UserID, ids, s.ttl); err != nil {
			s.logger.Warn("scope cache write failed", zap.String("user_id", actor.UserID), zap.Error(err))
		}
	}
	return ids, false, nil
}

// CanSeeModule reports whether the actor's scope covers one module. Access is
// a permission question, so the view preference plays no part here.
func (s *ScopeService) CanSeeModule(ctx context.Context, actor *models.JWTClaims, moduleID string) (bool, error) {
	ids, unrestricted, err := s.VisibleModuleIDs(ctx, actor, models.ViewAdmin)
	if err != nil {
		return false, err
	}
	if unrestricted {
		return true, nil
	}
	for _, id := range ids {
		if id == moduleID {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops a user's cached scope after a role or roster change.
func (s *ScopeService) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateScope(ctx, userID); err != nil {
		s.logger.Warn("scope invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
