package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Throttle caps request rate per authenticated user (falling back to client
// IP before auth) with one token bucket per key. This guards the transport;
// the persistent conversation-creation window is enforced separately in the
// service layer.
type Throttle struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

// NewThrottle constructs a Throttle.
func NewThrottle(rps float64, burst int) *Throttle {
	if rps <= 0 {
		rps = 25
	}
	if burst <= 0 {
		burst = 50
	}
	return &Throttle{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (t *Throttle) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(t.rps), t.burst)
	t.m[key] = l
	return l
}

// Allow reports whether a request under the key may proceed.
func (t *Throttle) Allow(key string) bool {
	return t.get(key).Allow()
}

// Middleware rejects over-limit requests with 429.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID := c.GetInt("userID"); userID != 0 {
			key = "u" + strconv.Itoa(userID)
		}
		if !t.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
