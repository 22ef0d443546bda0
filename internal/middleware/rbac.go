// rbac.go gates route groups on role capabilities. Handlers that need the
// environment of a request (publication) authorize inside the service instead.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/auth"
)

// RequireAction aborts with 403 unless the caller's role allows action.
func RequireAction(action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authorize(GetIdentity(c), action); err != nil {
			status := http.StatusForbidden
			if !errors.Is(err, apperrors.ErrForbidden) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error":   "Insufficient permissions",
				"details": "Required action: " + string(action),
			})
			return
		}
		c.Next()
	}
}
