package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/httputil"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

const trackedMessage = "Access tracked successfully"

// TrackingHandlers serves the ingestion endpoints.
type TrackingHandlers struct {
	tracker *analytics.Tracker
	logger  *observability.Logger
}

// NewTrackingHandlers creates tracking handlers.
func NewTrackingHandlers(tracker *analytics.Tracker, logger *observability.Logger) *TrackingHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TrackingHandlers{tracker: tracker, logger: logger}
}

// RegisterRoutes registers tracking routes on r, which is expected to carry
// the rate limiting and body size middleware.
func (h *TrackingHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/tracking/track", h.track).Methods(http.MethodPost)
	r.HandleFunc("/api/tracking/track/batch", h.trackBatch).Methods(http.MethodPost)
}

// track handles POST /api/tracking/track
func (h *TrackingHandlers) track(w http.ResponseWriter, r *http.Request) {
	var req analytics.TrackRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	fillFromTransport(r, &req)

	event, err := h.tracker.Track(r.Context(), req)
	if err != nil {
		var verr *analytics.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteValidationErrors(w, verr.Messages())
			return
		}
		httputil.RequestLogger(r, h.logger).WithError(err).Error("failed to track module access")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, TrackResponse{
		Success: true,
		Message: trackedMessage,
		EventID: event.ID,
	})
}

// trackBatch handles POST /api/tracking/track/batch
// The body is a JSON array of track requests. Every item is validated on its
// own; valid items are recorded even when others are rejected.
func (h *TrackingHandlers) trackBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []analytics.TrackRequest
	if !httputil.ParseJSONOrError(w, r, &reqs) {
		return
	}
	if len(reqs) > analytics.MaxBatchSize {
		httputil.WriteBadRequest(w, "batch exceeds the maximum of 500 events")
		return
	}
	for i := range reqs {
		fillFromTransport(r, &reqs[i])
	}

	results, err := h.tracker.TrackBatch(r.Context(), reqs)
	if err != nil {
		// Store failures are reported per item below.
		httputil.RequestLogger(r, h.logger).WithError(err).WithField("events", len(reqs)).Error("failed to track module access batch")
	}

	resp := BatchResponse{Results: make([]BatchItemResult, 0, len(results))}
	for _, res := range results {
		item := BatchItemResult{ModuleName: res.ModuleName, EventID: res.EventID}
		var verr *analytics.ValidationError
		switch {
		case res.Err == nil:
			item.Success = true
		case errors.As(res.Err, &verr):
			item.Errors = verr.Messages()
		default:
			item.Error = "processing error"
		}
		resp.Results = append(resp.Results, item)
	}

	httputil.WriteSuccess(w, resp)
}

// fillFromTransport copies request metadata the payload never carries. The
// X-Application-Id header supplies the application when the body omits it.
func fillFromTransport(r *http.Request, req *analytics.TrackRequest) {
	req.UserAgent = r.UserAgent()
	req.IPAddress = httputil.ClientIP(r)
	if req.ApplicationID == "" {
		req.ApplicationID = r.Header.Get(httputil.HeaderApplicationID)
	}
}
