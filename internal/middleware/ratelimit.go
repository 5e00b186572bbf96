package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller (user id when authenticated, client IP otherwise).
type RateLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	ttl      time.Duration
	limiters map[string]*limiterEntry
}

func NewRateLimiter(perSecond, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &RateLimiter{
		perSec:   rate.Limit(perSecond),
		burst:    burst,
		ttl:      5 * time.Minute,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *RateLimiter) allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{lim: rate.NewLimiter(l.perSec, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now

	// evict idle buckets opportunistically
	if len(l.limiters) > 1024 {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > l.ttl {
				delete(l.limiters, k)
			}
		}
	}

	return entry.lim.Allow()
}

// Middleware must be mounted after Auth to key by user.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := getClientIP(r)
		if userID := GetUserID(r.Context()); userID != 0 {
			key = "user:" + strconv.FormatInt(userID, 10)
		}
		if !l.allow(key) {
			response.TooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
