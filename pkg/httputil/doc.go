// Package httputil provides HTTP helpers shared by the API handlers.
//
// # Responses
//
// Every error reply has the same shape:
//
//	{"error": "validation failed", "details": ["user_id is required"]}
//
// Use WriteErrorMessage for a plain error, WriteValidationErrors when there
// are per-field messages, and WriteInternalError for failures whose cause
// must not reach the client.
//
// # Requests
//
//	var req TrackRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	start, err := httputil.ParseQueryTime(r, "start_date") // RFC 3339 or YYYY-MM-DD
//	limit, err := httputil.ParseQueryInt(r, "limit", 10)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//		httputil.ContentTypeMiddleware,
//	)
package httputil
