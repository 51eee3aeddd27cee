package oauth

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry tracks a per-IP limiter and its last access time.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-IP token bucket rate limiting with periodic
// cleanup of inactive entries.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	rate       int
	burst      int
	trustProxy bool
	cleanup    time.Duration
	done       chan struct{}
	stopOnce   sync.Once
	logger     *slog.Logger
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// rate is requests per second per IP; burst is the bucket size.
func NewRateLimiter(ratePerSecond, burst int, trustProxy bool, cleanupInterval time.Duration, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultRateLimitCleanupInterval
	}

	rl := &RateLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       ratePerSecond,
		burst:      burst,
		trustProxy: trustProxy,
		cleanup:    cleanupInterval,
		done:       make(chan struct{}),
		logger:     logger,
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from the given IP should be admitted.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = time.Now()

	return entry.limiter.Allow()
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
}

// cleanupLoop periodically removes limiters idle long enough that their
// buckets are fully refilled anyway.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.removeInactive(10 * time.Minute)
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) removeInactive(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(rl.limiters, ip)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("cleaned up inactive rate limiters", "removed", removed, "remaining", len(rl.limiters))
	}
}

// getClientIP extracts the client IP address from the request.
// Proxy headers are only honored when the server is configured to trust them.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Take the first IP if multiple
			for i := 0; i < len(xff); i++ {
				if xff[i] == ',' {
					return xff[:i]
				}
			}
			return xff
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	// RemoteAddr is "IP:port", extract just the IP
	return extractIPFromAddr(r.RemoteAddr)
}

// extractIPFromAddr extracts the IP address from "IP:port" format.
// IPv6 addresses are bracketed in RemoteAddr, so split on the last colon.
func extractIPFromAddr(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
