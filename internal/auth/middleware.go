package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	permissionsKey = "permissions"
	subjectKey     = "subject"
)

// Middleware requires a valid bearer token and stores the caller's
// permissions on the gin context.
func (j *JWTHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid authorization header format", nil))
			return
		}

		claims, err := j.ValidateAccessToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid or expired token", nil))
			return
		}

		c.Set(permissionsKey, RoleToPermissions(claims.Role))
		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(permissionsKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("FORBIDDEN", "no permissions found", nil))
			return
		}

		permissions, _ := perms.([]Permission)
		if !slices.Contains(permissions, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("FORBIDDEN", "insufficient permissions", gin.H{"required": string(required)}))
			return
		}

		c.Next()
	}
}

// Subject returns the token subject of an authenticated request.
func Subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}
