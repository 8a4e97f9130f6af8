package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/metrics"
)

// RateLimiter caps request rates per client IP over a fixed window. Each
// guarded endpoint carries its own limiter, so login abuse cannot starve
// the Stripe webhook and vice versa. Rejections answer in the same JSON
// envelope as the rest of the API.
type RateLimiter struct {
	name   string
	limit  int
	window time.Duration

	mu        sync.Mutex
	buckets   map[string]*rateBucket
	lastPrune time.Time
}

type rateBucket struct {
	windowStart time.Time
	count       int
}

// NewRateLimiter creates a limiter allowing limit requests per window.
// name labels rejections in logs and metrics.
func NewRateLimiter(name string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		name:    name,
		limit:   limit,
		window:  window,
		buckets: map[string]*rateBucket{},
	}
}

// Allow records a request from ip at now and reports whether it is within
// the limit. When denied, the second return value is how long the caller
// should wait before retrying.
func (rl *RateLimiter) Allow(ip string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastPrune) >= rl.window {
		for k, b := range rl.buckets {
			if now.Sub(b.windowStart) >= rl.window {
				delete(rl.buckets, k)
			}
		}
		rl.lastPrune = now
	}

	b := rl.buckets[ip]
	if b == nil || now.Sub(b.windowStart) >= rl.window {
		rl.buckets[ip] = &rateBucket{windowStart: now, count: 1}
		return true, 0
	}
	if b.count >= rl.limit {
		return false, b.windowStart.Add(rl.window).Sub(now)
	}
	b.count++
	return true, 0
}

// Middleware enforces the limit ahead of next.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := rl.Allow(clientIP(r), time.Now())
		if !ok {
			metrics.RateLimitedTotal.WithLabelValues(rl.name).Inc()
			log.Debug().
				Str("endpoint", rl.name).
				Str("path", r.URL.Path).
				Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
			writeJSON(w, http.StatusTooManyRequests, errorBody("Too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP identifies the caller, trusting the first hop of X-Forwarded-For
// because the service runs behind a reverse proxy that sets it.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
