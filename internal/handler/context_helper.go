package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-appeal-api/internal/middleware"
	"github.com/noah-isme/uni-appeal-api/internal/models"
)

// claimsFromContext returns the authenticated claims, or nil when the JWT
// middleware did not run on this route.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}
