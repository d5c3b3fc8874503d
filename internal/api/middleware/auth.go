package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SnakeO/gps-catcher/internal/api/util"
)

const SubjectKey = "subject"

// RequireJWT guards the admin routes with HS256 bearer tokens. With no
// secret configured every request is refused.
func RequireJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "admin API disabled"})
			return
		}

		token, ok := util.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "bearer token required"})
			return
		}

		claims, err := util.ParseToken([]byte(secret), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid or expired token"})
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}
