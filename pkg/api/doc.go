// Package api provides the HTTP REST API of the module heat map service.
//
// # Overview
//
// The API is built on gorilla/mux and organized into three handler groups:
//
//   - Tracking: record module access events, one at a time or in batches
//   - Analytics: heat maps, per-module metrics, unused modules and top users
//   - Modules: the optional registry of display names and categories
//
// Server wires the groups together with request IDs, structured request
// logging, panic recovery, body limits, Prometheus instrumentation and,
// optionally, CORS and OpenTelemetry tracing:
//
//	server := api.NewServer(api.Options{
//		Service:  analytics.NewService(store, registry, logger, metrics),
//		Tracker:  analytics.NewTracker(store, logger, metrics),
//		Registry: registry,
//		Logger:   logger,
//	})
//	http.ListenAndServe(":8080", server)
//
// # API Endpoints
//
// Tracking (rate limited per X-Application-Id):
//
//	POST /api/tracking/track
//	POST /api/tracking/track/batch
//
// Analytics:
//
//	GET /api/analytics/{applicationId}/heatmap?start_date=&end_date=
//	GET /api/analytics/{applicationId}/modules/{moduleName}/analytics?start_date=&end_date=
//	GET /api/analytics/{applicationId}/unused-modules?days_since_last_access=30
//	GET /api/analytics/{applicationId}/modules/{moduleName}/top-users?limit=10
//
// Module registry:
//
//	GET /api/applications/{applicationId}/modules
//	PUT /api/applications/{applicationId}/modules/{moduleName}
//
// Dates accept RFC 3339 or YYYY-MM-DD and default to the trailing 30 days.
//
// Options.CORSOrigins enables cross-origin access for browser trackers; "*"
// allows any origin.
//
// # Error Handling
//
// Errors are JSON objects of the form {"error": "...", "details": [...]}:
//
//   - 400 for malformed input, failed validation, inverted or oversized windows
//   - 413 when the body exceeds the configured limit
//   - 429 when the tracking rate limit is exhausted
//   - 503 when events cannot be retrieved ("aggregation unavailable")
//
// An empty result is never an error: analytics over a window without events
// return 200 with zero metrics and empty lists.
package api
