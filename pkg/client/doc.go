// Package client is the Go SDK for the module heat map service.
//
// A Client reports module accesses for one application and reads its
// analytics:
//
//	c, err := client.New(client.Options{
//		BaseURL:       "https://heatmap.internal",
//		ApplicationID: "crm",
//	})
//	c.Track(ctx, analytics.TrackRequest{
//		UserID:     "alice",
//		ModuleName: "reports",
//		ModuleURL:  "/reports",
//		AccessType: analytics.AccessView,
//	})
//	heatMap, err := c.GetHeatMap(ctx, time.Time{}, time.Time{})
//
// Transport failures, 429 and 5xx responses are retried with exponential
// backoff, honoring Retry-After. Tracking is therefore at-least-once.
//
// For high-volume callers a Batcher buffers events and sends them through
// the batch endpoint when BatchSize events are pending or every
// FlushInterval. Close flushes what remains.
package client
