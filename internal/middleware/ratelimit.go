// Package middleware provides HTTP middleware for the taxotag server.
package middleware

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taxotag/internal/ratelimit"
)

// RateLimitConfig contains configuration for rate limiting middleware.
// The service has no authenticated clients; limiting is IP-based only.
type RateLimitConfig struct {
	Enabled                bool `json:"enabled"`
	WindowSeconds          int  `json:"windowSeconds"`          // Time window in seconds
	MaxRequests            int  `json:"maxRequests"`            // Max requests in window
	CleanupIntervalSeconds int  `json:"cleanupIntervalSeconds"` // Cleanup interval for expired buckets
}

// DefaultRateLimitConfig returns default rate limiting configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:                true,
		WindowSeconds:          60,  // 1 minute
		MaxRequests:            100, // 100 requests per minute per IP
		CleanupIntervalSeconds: 300, // 5 minutes
	}
}

// RateLimitMiddleware provides HTTP rate limiting
type RateLimitMiddleware struct {
	limiter             *ratelimit.SlidingWindow
	config              RateLimitConfig
	onRateLimitExceeded func(r *http.Request, identifier string)
}

// RateLimitMiddlewareConfig contains initialization options for rate limiting middleware
type RateLimitMiddlewareConfig struct {
	Config              RateLimitConfig
	OnRateLimitExceeded func(r *http.Request, identifier string)
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(config RateLimitMiddlewareConfig) *RateLimitMiddleware {
	if !config.Config.Enabled {
		// Return disabled middleware that allows all requests
		return &RateLimitMiddleware{
			config:              config.Config,
			onRateLimitExceeded: config.OnRateLimitExceeded,
		}
	}

	window := time.Duration(config.Config.WindowSeconds) * time.Second
	cleanupInterval := time.Duration(config.Config.CleanupIntervalSeconds) * time.Second

	// Default cleanup interval to 60 seconds if not specified
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}

	return &RateLimitMiddleware{
		limiter:             ratelimit.NewSlidingWindow(window, config.Config.MaxRequests, cleanupInterval),
		config:              config.Config,
		onRateLimitExceeded: config.OnRateLimitExceeded,
	}
}

// Wrap wraps an http.Handler with rate limiting
func (m *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.config.Enabled {
			// Rate limiting disabled, pass through
			next.ServeHTTP(w, r)
			return
		}

		identifier := extractClientIP(r)
		allowed, remaining, resetTime, retryAfter := m.limiter.Allow(identifier)

		// Add rate limit headers to response
		m.setRateLimitHeaders(w, allowed, remaining, resetTime, retryAfter)

		if !allowed {
			// Rate limit exceeded
			if m.onRateLimitExceeded != nil {
				m.onRateLimitExceeded(r, identifier)
			}

			// Log with sanitized identifier for privacy
			log.Printf("[RateLimit] Rate limit exceeded: %s %s (ip: %s)",
				r.Method, r.URL.Path, sanitizeIP(identifier))

			m.sendRateLimitError(w, retryAfter)
			return
		}

		// Request allowed, continue to next middleware/handler
		next.ServeHTTP(w, r)
	})
}

// WrapFunc wraps an http.HandlerFunc with rate limiting
func (m *RateLimitMiddleware) WrapFunc(next http.HandlerFunc) http.HandlerFunc {
	return m.Wrap(next).ServeHTTP
}

// setRateLimitHeaders sets standard rate limiting HTTP headers
func (m *RateLimitMiddleware) setRateLimitHeaders(w http.ResponseWriter, allowed bool, remaining int, resetTime time.Time, retryAfter int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.config.MaxRequests))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

	// Set Retry-After header only if rate limited
	if !allowed && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
}

// sendRateLimitError sends a 429 Too Many Requests response
func (m *RateLimitMiddleware) sendRateLimitError(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusTooManyRequests)

	errorResponse := struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}{
		Error:      "rate_limit_exceeded",
		Message:    "Rate limit exceeded. Try again later.",
		RetryAfter: retryAfter,
	}

	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Printf("[RateLimit] Failed to encode error response: %v", err)
	}
}

// extractClientIP extracts the real client IP from the request
// Handles proxies and load balancers by checking standard headers
func extractClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (can contain multiple IPs)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (the original client)
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if isValidIP(ip) {
				return ip
			}
		}
	}

	// Check X-Real-IP header (single IP)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip := strings.TrimSpace(xri)
		if isValidIP(ip) {
			return ip
		}
	}

	// Fallback to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If SplitHostPort fails, return the raw RemoteAddr
		return r.RemoteAddr
	}

	return host
}

// isValidIP checks if a string is a valid IP address
func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// sanitizeIP truncates IP addresses for logging (privacy protection)
func sanitizeIP(identifier string) string {
	if ip := net.ParseIP(identifier); ip != nil {
		if ip.To4() != nil {
			// IPv4: show only first two octets
			parts := strings.Split(identifier, ".")
			if len(parts) >= 2 {
				return fmt.Sprintf("%s.%s.*.*", parts[0], parts[1])
			}
		} else if ip.To16() != nil {
			// IPv6: show only first part
			parts := strings.Split(identifier, ":")
			if len(parts) >= 1 {
				return fmt.Sprintf("%s::*", parts[0])
			}
		}
	}

	// Fallback: just indicate it's an IP
	return "IP_ADDR"
}

// Stop stops the rate limiting middleware and cleans up resources
func (m *RateLimitMiddleware) Stop() {
	if m.limiter != nil {
		m.limiter.Stop()
	}
}

// GetStats returns statistics about rate limiting
func (m *RateLimitMiddleware) GetStats() map[string]interface{} {
	if !m.config.Enabled {
		return map[string]interface{}{
			"enabled": false,
		}
	}

	stats := map[string]interface{}{
		"enabled": true,
		"config": map[string]interface{}{
			"window_seconds":           m.config.WindowSeconds,
			"max_requests":             m.config.MaxRequests,
			"cleanup_interval_seconds": m.config.CleanupIntervalSeconds,
		},
	}

	if m.limiter != nil {
		limiterStats := m.limiter.GetStats()
		stats["limiter"] = map[string]interface{}{
			"active_buckets":   limiterStats.ActiveBuckets,
			"total_timestamps": limiterStats.TotalTimestamps,
		}
	}

	return stats
}
