// Package respond maps service errors onto HTTP responses so every handler
// reports the same status for the same kind of failure.
package respond

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apk-registry/apk-registry/internal/apperrors"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error writes {"error": msg} with the status matching err. Server-side
// failures are logged with the request id; their details never reach the client.
func Error(c *gin.Context, err error) {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
			"error", err)
	}
	c.JSON(status, gin.H{"error": apperrors.Message(err)})
}
