package gatewayapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleRoot is the unauthenticated liveness landing page.
func (d *Deps) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"response": "prodest-ml-stack gateway is up"})
}

// handleVersion reports the configured stack version.
func (d *Deps) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"Stack Version": d.StackVersion})
}
