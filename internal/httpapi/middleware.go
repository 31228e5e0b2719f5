package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerDriverID = "X-Driver-ID"
	headerRole     = "X-Role"

	ctxDriverID = "driver_id"
	ctxRole     = "role"
)

// identity consumes the already-verified identity supplied by the access
// boundary in front of this service. Credentials are never parsed here;
// a request without the headers is simply unauthenticated.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID := c.GetHeader(headerDriverID)
		role := c.GetHeader(headerRole)
		if rawID == "" || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "unauthenticated", "message": "missing identity"},
			})
			return
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "unauthenticated", "message": "malformed identity"},
			})
			return
		}
		c.Set(ctxDriverID, id)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func driverID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ctxDriverID)
	id, _ := v.(uuid.UUID)
	return id
}
