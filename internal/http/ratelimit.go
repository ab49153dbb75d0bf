package http

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quizdesk/internal/metrics"
)

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles credential submissions per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	logger  *slog.Logger
	metrics metrics.Recorder

	mu       sync.Mutex
	limiters map[string]*ipLimiter
	now      func() time.Time
}

// NewRateLimiter allows perMinute requests per IP with an equal burst. A
// non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int, logger *slog.Logger, recorder metrics.Recorder) *RateLimiter {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &RateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		logger:   logger,
		metrics:  recorder,
		limiters: make(map[string]*ipLimiter),
		now:      time.Now,
	}
}

// Middleware returns the limiting middleware for route, which labels log lines and metrics.
func (rl *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.burst <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPFromRequest(r)
			if !rl.limiterFor(ip).Allow() {
				rl.metrics.RecordRateLimited(route)
				rl.logger.Warn("rate limit exceeded", "ip", ip, "route", route)
				rl.writeLimited(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Run drops limiters idle for longer than twice interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.cleanup(2 * interval)
		}
	}
}

// Len returns the number of tracked IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[ip]; ok {
		entry.lastAccess = rl.now()
		return entry.limiter
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[ip] = &ipLimiter{limiter: limiter, lastAccess: rl.now()}
	return limiter
}

func (rl *RateLimiter) cleanup(ttl time.Duration) {
	cutoff := rl.now().Add(-ttl)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *RateLimiter) writeLimited(w http.ResponseWriter) {
	retryAfter := int(math.Ceil(1.0 / float64(rl.limit)))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
}
