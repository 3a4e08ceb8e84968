package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/arcp-io/arcp/internal/problem"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerIP returns a gin middleware enforcing a per-IP token bucket across all
// routes. This is the outer flood guard; the credential-aware Limiter handles
// brute-force protection on auth endpoints. rps is the steady-state requests
// per second; burst is the bucket size. Stale entries are cleaned every
// 5 minutes.
func PerIP(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*ipLimiter)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for ip, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		l, ok := limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[ip] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			problem.AbortRateLimited(c, 1, "request rate exceeded")
			return
		}
		c.Next()
	}
}

// Guard aborts the request with a 429 problem when the decision disallows it.
// Returns true when the request may proceed.
func Guard(c *gin.Context, d Decision) bool {
	if d.Allowed {
		return true
	}
	retry := int(d.RetryAfter.Seconds())
	if d.RetryAfter > 0 && retry == 0 {
		retry = 1
	}
	detail := "too many attempts, slow down"
	if d.Locked {
		detail = "identifier temporarily locked out"
	}
	problem.AbortRateLimited(c, retry, detail)
	return false
}
