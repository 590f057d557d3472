package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Enabled determines if rate limiting is active.
	Enabled bool
	// RequestsPerSecond is the rate limit per client.
	RequestsPerSecond float64
	// BurstSize is the maximum burst allowed.
	BurstSize int
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 50,
		BurstSize:         100,
		CleanupInterval:   time.Minute,
	}
}

// EndpointRateLimitConfig holds rate limiting configuration for specific endpoints.
type EndpointRateLimitConfig struct {
	// Pattern is the URL pattern to match (e.g., "/api/v1/workflows/*/trigger")
	Pattern string
	// RequestsPerSecond is the rate limit per client for this endpoint.
	RequestsPerSecond float64
	// BurstSize is the maximum burst allowed for this endpoint.
	BurstSize int
}

// DefaultTriggerEndpointLimit is the stricter limit for manual workflow triggers.
func DefaultTriggerEndpointLimit() EndpointRateLimitConfig {
	return EndpointRateLimitConfig{
		Pattern:           "/api/v1/workflows/*/trigger",
		RequestsPerSecond: 5,
		BurstSize:         10,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client, plus separate buckets for endpoint patterns.
type RateLimiter struct {
	config          RateLimitConfig
	clients         map[string]*clientLimiter
	endpointLimits  []EndpointRateLimitConfig
	endpointClients map[string]map[string]*clientLimiter // pattern -> clientID -> limiter
	mu              sync.Mutex
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		clients:         make(map[string]*clientLimiter),
		endpointClients: make(map[string]map[string]*clientLimiter),
		stopCh:          make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

// WithEndpointLimits adds endpoint-specific rate limits.
func (rl *RateLimiter) WithEndpointLimits(limits []EndpointRateLimitConfig) *RateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.endpointLimits = limits
	for _, limit := range limits {
		if _, exists := rl.endpointClients[limit.Pattern]; !exists {
			rl.endpointClients[limit.Pattern] = make(map[string]*clientLimiter)
		}
	}
	return rl
}

func (rl *RateLimiter) limiterFor(clients map[string]*clientLimiter, clientID string, rps float64, burst int) *rate.Limiter {
	cl, exists := clients[clientID]
	if !exists {
		if burst <= 0 {
			burst = 1
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		clients[clientID] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// Allow checks if a request from the given client is allowed.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.config.Enabled {
		return true
	}
	rl.mu.Lock()
	lim := rl.limiterFor(rl.clients, clientID, rl.config.RequestsPerSecond, rl.config.BurstSize)
	rl.mu.Unlock()
	return lim.Allow()
}

// AllowEndpoint checks the first matching endpoint limit, falling back to the global limit.
// Returns the rate limit that was applied.
func (rl *RateLimiter) AllowEndpoint(clientID, path string) (allowed bool, rateLimit float64) {
	if !rl.config.Enabled {
		return true, 0
	}

	rl.mu.Lock()
	for _, limit := range rl.endpointLimits {
		if matchEndpointPattern(limit.Pattern, path) {
			lim := rl.limiterFor(rl.endpointClients[limit.Pattern], clientID, limit.RequestsPerSecond, limit.BurstSize)
			rl.mu.Unlock()
			return lim.Allow(), limit.RequestsPerSecond
		}
	}
	rl.mu.Unlock()

	return rl.Allow(clientID), rl.config.RequestsPerSecond
}

// matchEndpointPattern checks if a path matches a pattern with wildcard support.
// Patterns use * for single segment wildcards (e.g., "/api/v1/workflows/*/trigger")
func matchEndpointPattern(pattern, path string) bool {
	patternParts := splitPath(pattern)
	pathParts := splitPath(path)

	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, pp := range patternParts {
		if pp == "*" {
			continue
		}
		if pp != pathParts[i] {
			return false
		}
	}
	return true
}

// splitPath splits a URL path into segments.
func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// cleanup periodically forgets clients idle for two intervals.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.sweep(time.Now().Add(-rl.config.CleanupInterval * 2))
		}
	}
}

func (rl *RateLimiter) sweep(threshold time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	prune := func(clients map[string]*clientLimiter) {
		for id, cl := range clients {
			if cl.lastSeen.Before(threshold) {
				delete(clients, id)
				removed++
			}
		}
	}
	prune(rl.clients)
	for _, clients := range rl.endpointClients {
		prune(clients)
	}
	return removed
}

// Stop stops the rate limiter cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// NewRateLimitMiddleware creates a rate limiting middleware.
func NewRateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !limiter.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			allowed, rateLimit := limiter.AllowEndpoint(getClientID(r), r.URL.Path)
			if !allowed {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", rateLimit))
				writeError(w, ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID extracts the client identifier from the request. RealIP has already
// rewritten RemoteAddr when the router runs behind a proxy.
func getClientID(r *http.Request) string {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && len(apiKey) >= 12 {
		return "key:" + apiKey[:12]
	}
	return "ip:" + r.RemoteAddr
}
