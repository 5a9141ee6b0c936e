package gatewayapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// requireBearer builds middleware that checks the Authorization header
// against the token returned by want, segregating the client and worker
// credential blast radius. The two tokens are never unified.
func (d *Deps) requireBearer(want func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || token != want() {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "Error", "response": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
