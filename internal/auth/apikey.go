// Package auth guards the operator API with a shared-secret key.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the operator secret on every /v1 request.
const HeaderAPIKey = "X-API-Key"

// APIKeyMiddleware rejects requests whose key header does not match key
// exactly. An empty key disables the check entirely, which is the
// development default; production configs set server.api_key.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	disabled := key == ""
	want := []byte(key)

	return func(c *gin.Context) {
		if disabled {
			c.Next()
			return
		}

		got := c.GetHeader(HeaderAPIKey)
		switch {
		case got == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "API key rejected"})
		default:
			c.Next()
		}
	}
}
