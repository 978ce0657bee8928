package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"litigation-backend/internal/shared/auth"
	"litigation-backend/internal/shared/server/respond"
)

const callerKey = "caller"

// Auth validates service JWTs and stores the caller subject in context.
// Health and metrics endpoints are exempt.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		path := c.Request.URL.Path
		if path == "/api/v1/health" || path == "/metrics" {
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		claims, err := auth.VerifyJWT(secret, token)
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(callerKey, claims.Subject)
		c.Next()
	}
}

// CallerFromContext fetches the caller subject set by the auth middleware.
func CallerFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(callerKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
