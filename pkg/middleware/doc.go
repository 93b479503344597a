// Package middleware provides rate limiting for the tracking endpoints.
//
// Requests are keyed by the X-Application-Id header, or by client IP when
// the header is absent. Two limiters implement the Limiter interface:
//
//   - RateLimiter: an in-process token bucket with a burst allowance
//   - DistributedRateLimiter: a Redis fixed window shared by all instances
//
// RateLimitMiddleware uses the Redis limiter when one is configured and
// falls back to the local bucket if Redis errors:
//
//	local := middleware.NewRateLimiter(cfg)
//	local.StartCleanup(ctx)
//	limit := middleware.NewRateLimitMiddleware(
//		middleware.NewDistributedRateLimiter(redisClient, cfg, ""), local, logger, metrics)
//	tracking.Use(limit.Handler)
//
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. Rejected requests get 429 with Retry-After.
package middleware
