package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/types"
)

// CORSMiddleware handles CORS for the ops surface. The API serves only
// GET and POST; the request-id header is exposed so browser callers can
// correlate a response with server logs.
func CORSMiddleware(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*") // TODO: Set to specific origin
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+types.HeaderRequestID)
	c.Writer.Header().Set("Access-Control-Expose-Headers", types.HeaderRequestID)
	c.Writer.Header().Set("Access-Control-Max-Age", "86400")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusOK)
		return
	}
	c.Next()
}
