// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, request ids, metrics and security headers.
//
// Ordering is fixed in router.go:
//
//	RequestID -> Metrics -> Logger -> Security -> Auth -> RateLimit -> RequireAction -> Handler
//
// Rate limiting runs after Auth so authenticated callers are limited per user
// rather than per address.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/apk-registry/apk-registry/internal/auth"
)

// IdentityKey is the gin.Context key holding the verified *auth.Identity.
const IdentityKey = "identity"

// AuthMiddleware requires a valid bearer JWT and stores the caller identity.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		setIdentity(c, claims.Identity())
		c.Next()
	}
}

// bearerToken extracts the token from an Authorization header. A non-empty
// second return value is the client-facing reason it was rejected.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty"
	}
	return token, ""
}

func setIdentity(c *gin.Context, id *auth.Identity) {
	c.Set(IdentityKey, id)
	c.Set("user_id", id.UserID)
	c.Set("role", string(id.Role))
}

// GetIdentity returns the caller identity set by AuthMiddleware, or nil.
func GetIdentity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}
