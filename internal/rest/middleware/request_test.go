package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/helioscale/helioscale/internal/types"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestIDMiddleware)
	var ctxRequestID string
	router.GET("/ping", func(c *gin.Context) {
		ctxRequestID = types.GetRequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	// No header: a short id is minted, echoed, and put on the context.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	minted := w.Header().Get(types.HeaderRequestID)
	assert.True(t, strings.HasPrefix(minted, strings.ToUpper(types.UUID_PREFIX_REQUEST)))
	assert.LessOrEqual(t, len(minted), 12)
	assert.Equal(t, minted, ctxRequestID)

	// Caller-supplied ids pass through untouched.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(types.HeaderRequestID, "req_upstream")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req_upstream", w.Header().Get(types.HeaderRequestID))
	assert.Equal(t, "req_upstream", ctxRequestID)
}
