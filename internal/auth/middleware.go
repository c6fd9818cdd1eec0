// Package auth resolves who is calling the trust engine.
//
// End users are authenticated upstream by the platform gateway, which
// forwards the caller's id in a trusted header. Batch triggers carry a
// shared bearer secret instead.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the key for storing the caller's user id in gin context
	ContextKeyUserID = "authUserID"

	// DefaultUserHeader is the header the gateway uses for the caller id.
	DefaultUserHeader = "X-User-ID"

	maxUserIDLen = 128
)

// Middleware copies the gateway-supplied caller id into the context.
// It never aborts; RequireUser does.
func Middleware(header string) gin.HandlerFunc {
	if header == "" {
		header = DefaultUserHeader
	}
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(header))
		if id != "" && len(id) <= maxUserIDLen {
			c.Set(ContextKeyUserID, id)
		}
		c.Next()
	}
}

// RequireUser rejects requests without a caller identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Caller identity required.",
			})
			return
		}
		c.Next()
	}
}

// RequireBatchSecret rejects requests whose bearer token does not match
// secret. An empty secret disables the batch routes entirely.
func RequireBatchSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if len(want) == 0 || token == "" || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid batch credential required.",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller's id, or "".
func UserID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyUserID)
	if !exists {
		return ""
	}
	s, _ := id.(string)
	return s
}

func bearerToken(h string) string {
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
