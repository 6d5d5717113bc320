package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/types"
)

// RequestIDMiddleware propagates the caller's request ID, minting one
// when the header is absent, and echoes it on the response.
func RequestIDMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		// Short ids keep log lines and response headers compact;
		// request ids never need to sort.
		requestID = types.GenerateShortIDWithPrefix(types.UUID_PREFIX_REQUEST)
	}

	ctx = context.WithValue(ctx, types.CtxRequestID, requestID)
	c.Request = c.Request.WithContext(ctx)

	c.Header(types.HeaderRequestID, requestID)

	c.Next()
}
