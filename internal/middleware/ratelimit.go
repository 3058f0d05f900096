package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/equitypanel/internal/domain/dto"
	"golang.org/x/time/rate"
)

// Per-client token bucket settings. Package level so tests can tighten them.
var (
	requestsPerMinute = 60
	burst             = 10
	idleTTL           = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    rate.Limit
	burst    int
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > idleTTL {
			delete(l.visitors, k)
		}
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.every, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimiter limits requests per client IP with a token bucket refilled
// at requestsPerMinute and holding at most burst tokens. Clients idle for
// longer than idleTTL are forgotten.
//
// Response when the bucket is empty:
//
//	HTTP/1.1 429 Too Many Requests
//	{"message": "rate limit exceeded", ...}
//
// State is per process; instances behind a load balancer limit independently.
func RateLimiter() gin.HandlerFunc {
	l := &ipLimiter{
		visitors: make(map[string]*visitor),
		every:    rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:    burst,
	}
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponse("rate limit exceeded", nil))
			return
		}
		c.Next()
	}
}
