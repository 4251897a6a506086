package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"shaluqa.app/crm/internal/logger"
)

const limitedMessage = "Demasiados intentos, inténtalo más tarde"

type RateLimit interface {
	Allow(key string) bool
	// RetryAfter is how long key waits before Allow can succeed again.
	RetryAfter(key string) time.Duration
}

type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter allows maxRequests per key in each window. Expired
// windows are dropped lazily once the map grows past pruneThreshold keys.
type FixedWindowLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string]*window
	mutex       sync.Mutex
	now         func() time.Time
}

const pruneThreshold = 1024

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		window:      interval,
		requests:    make(map[string]*window),
		now:         time.Now,
	}
}

func (rl *FixedWindowLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	w := rl.requests[key]

	if w == nil || now.Sub(w.start) > rl.window {
		if rl.maxRequests <= 0 {
			return false
		}
		if len(rl.requests) >= pruneThreshold {
			rl.prune(now)
		}

		rl.requests[key] = &window{count: 1, start: now}
		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++

	return true
}

// RetryAfter is the time left in key's current window, zero when key has no
// open window.
func (rl *FixedWindowLimiter) RetryAfter(key string) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	w := rl.requests[key]
	if w == nil {
		return 0
	}
	left := rl.window - rl.now().Sub(w.start)
	if left < 0 {
		return 0
	}
	return left
}

func (rl *FixedWindowLimiter) prune(now time.Time) {
	for key, w := range rl.requests {
		if now.Sub(w.start) > rl.window {
			delete(rl.requests, key)
		}
	}
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func Middleware(limiter RateLimit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !limiter.Allow(ip) {
				logger.Warn("Rate limit exceeded", map[string]interface{}{
					"ip":   ip,
					"path": r.URL.Path,
				})
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfterSeconds(limiter.RetryAfter(ip)))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": limitedMessage})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ClientIP is the host part of RemoteAddr. chi's RealIP middleware rewrites
// RemoteAddr from proxy headers before this runs.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
