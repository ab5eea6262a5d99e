package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{PerTokenRPM: 60, PerIPRPM: 120, BurstMultiplier: 1.0})
	ok, _ := l.Allow("subject-1", true)
	assert.True(t, ok)
}

func TestAllowRejectsBeyondBurst(t *testing.T) {
	l := New(Config{PerTokenRPM: 60, PerIPRPM: 60, BurstMultiplier: 1.0})
	allowedCount := 0
	var lastRetry int
	for i := 0; i < 10; i++ {
		ok, retry := l.Allow("same-ip", false)
		if ok {
			allowedCount++
		} else {
			lastRetry = retry
		}
	}
	assert.Less(t, allowedCount, 10)
	assert.GreaterOrEqual(t, lastRetry, 1)
}

func TestBucketsAreIsolatedByIdentity(t *testing.T) {
	l := New(Config{PerTokenRPM: 1, PerIPRPM: 1, BurstMultiplier: 1.0})
	ok1, _ := l.Allow("alice", true)
	ok2, _ := l.Allow("bob", true)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestMiddlewareReturns429WhenExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(Config{PerTokenRPM: 60, PerIPRPM: 60, BurstMultiplier: 1.0})
	r := gin.New()
	r.GET("/ping", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	var lastCode int
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.5:12345"
		r.ServeHTTP(w, req)
		lastCode = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}
