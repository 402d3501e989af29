package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/assessflow/amt-api/internal/models"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
	"github.com/assessflow/amt-api/pkg/response"
)

// CurrentClaims extracts the authenticated claims from the gin context.
func CurrentClaims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// RequireAdminCapable allows teaching support staff and academic exams
// officers through. Workflow-role checks happen per assessment in the
// services; this gate covers directory, roster and import surfaces.
func RequireAdminCapable() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.IsAdminCapable() {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "administrative capability required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireExamsOfficer allows only academic exams officers through.
func RequireExamsOfficer() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if claims.BaseType != models.BaseTypeAcademic || !claims.ExamsOfficer {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "exams officer capability required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
