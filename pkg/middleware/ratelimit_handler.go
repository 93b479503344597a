package middleware

import (
	"net/http"
	"time"

	"github.com/debjordan/ModuleHeatmap/pkg/httputil"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

// RateLimitMiddleware limits tracking traffic per calling application.
// Requests without an X-Application-Id header are keyed by client IP.
type RateLimitMiddleware struct {
	primary  Limiter
	fallback Limiter
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewRateLimitMiddleware uses primary for every request and falls back to
// fallback when primary errors. Either may be nil; with neither, requests
// pass through untouched.
func NewRateLimitMiddleware(primary, fallback Limiter, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}
	return &RateLimitMiddleware{
		primary:  primary,
		fallback: fallback,
		logger:   logger.WithField("component", "ratelimit"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Key returns the rate limit bucket for r.
func Key(r *http.Request) string {
	if appID := r.Header.Get(httputil.HeaderApplicationID); appID != "" {
		return "app:" + appID
	}
	return "ip:" + httputil.ClientIP(r)
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.primary == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := Key(r)
		limiter := m.primary
		d, err := limiter.Allow(r.Context(), key)
		if err != nil {
			m.logger.WithError(err).WithField("limiter", limiter.Name()).Warn("rate limiter unavailable")
			if m.fallback == nil {
				// fail open
				next.ServeHTTP(w, r)
				return
			}
			limiter = m.fallback
			if d, err = limiter.Allow(r.Context(), key); err != nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		for k, v := range d.Headers(m.now()) {
			w.Header().Set(k, v)
		}
		if !d.Allowed {
			m.metrics.RateLimited(limiter.Name())
			httputil.WriteTooManyRequests(w, d.ResetAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}
