package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"teamspace-backend/pkg/jwt"
)

// RevocationChecker reports whether a validated token has been revoked
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
}

// Auth validates bearer tokens and sets user_id and username in the
// Gin context. Browsers cannot set headers on WebSocket upgrades, so a
// `token` query parameter is accepted as a fallback.
func Auth(jwtManager *jwt.Manager, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		claims, err := jwtManager.Validate(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		if revocationChecker != nil {
			revoked, err := revocationChecker.IsTokenRevoked(c.Request.Context(), tokenString)
			if err == nil && revoked {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token revoked"})
				c.Abort()
				return
			}
			// Fail-open when the revocation store is unreachable: the
			// signature already validated, so the request proceeds
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
