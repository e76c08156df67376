package ratelimit

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the user a request is accounted to. An empty result skips limiting.
type KeyFunc func(r *http.Request) string

// Middleware wraps an HTTP handler with rate limiting.
type Middleware struct {
	limiter  *Limiter
	enabled  bool
	key      KeyFunc
	logger   *log.Logger
	onReject func(userID string)
	now      func() time.Time
}

// NewMiddleware creates a new rate limiting middleware.
func NewMiddleware(limiter *Limiter, enabled bool, key KeyFunc, logger *log.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		enabled: enabled,
		key:     key,
		logger:  logger,
		now:     time.Now,
	}
}

// OnReject registers a callback invoked for every rejected request.
func (m *Middleware) OnReject(fn func(userID string)) { m.onReject = fn }

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled || m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := m.key(r)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed := m.limiter.Allow(r.Context(), userID)
		m.addRateLimitHeaders(w, r, userID)
		if !allowed {
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: user_id=%s path=%s", userID, r.URL.Path)
			}
			if m.onReject != nil {
				m.onReject(userID)
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// addRateLimitHeaders adds standard rate limit headers to the response.
// See: https://datatracker.ietf.org/doc/html/draft-polli-ratelimit-headers
func (m *Middleware) addRateLimitHeaders(w http.ResponseWriter, r *http.Request, userID string) {
	remaining := m.limiter.Remaining(r.Context(), userID)
	limit := m.limiter.Capacity()
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", remaining))
	if remaining < limit {
		reset := m.now().Add(m.limiter.ResetAfter(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	}
}
