package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-appeal-api/internal/models"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
	"github.com/noah-isme/uni-appeal-api/pkg/response"
)

// RequireRoles blocks requests whose authenticated role is not listed.
// Finer-grained ownership checks stay in the services, which know who an
// appeal belongs to.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
