package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket per client IP
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration // buckets unused this long are forgotten
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// New creates a limiter allowing max requests per window, bursting up to max.
// max <= 0 disables limiting.
func New(max int, per time.Duration) *Limiter {
	l := &Limiter{
		buckets: map[string]*bucket{},
		limit:   rate.Inf,
		idle:    2 * per,
	}
	if max > 0 {
		l.limit = rate.Limit(float64(max) / per.Seconds())
		l.burst = max
	}
	return l
}

// Allow reports whether key may proceed now
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst), seen: now}
		l.buckets[key] = b
		l.evictLocked(now)
	}
	b.seen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// evictLocked drops idle buckets; called on inserts so the map stays bounded
func (l *Limiter) evictLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, k)
		}
	}
}

// Middleware enforces the rate limit before calling the next handler
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ip, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			ip = req.RemoteAddr
		}
		if !l.Allow(ip) {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
