package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestThrottleAllowBurst(t *testing.T) {
	throttle := NewThrottle(1, 2)

	require.True(t, throttle.Allow("u1"))
	require.True(t, throttle.Allow("u1"))
	require.False(t, throttle.Allow("u1"))

	// independent bucket per key
	require.True(t, throttle.Allow("u2"))
}

func TestThrottleMiddlewareRejectsOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	throttle := NewThrottle(1, 1)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.Use(throttle.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
