package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/httputil"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

// DefaultMaxWindow bounds query windows when no limit is configured.
const DefaultMaxWindow = 366 * 24 * time.Hour

// AnalyticsHandlers serves the read-side analytics endpoints.
type AnalyticsHandlers struct {
	service   *analytics.Service
	maxWindow time.Duration
	logger    *observability.Logger
}

// NewAnalyticsHandlers creates analytics handlers. A non-positive maxWindow
// selects DefaultMaxWindow.
func NewAnalyticsHandlers(service *analytics.Service, maxWindow time.Duration, logger *observability.Logger) *AnalyticsHandlers {
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AnalyticsHandlers{
		service:   service,
		maxWindow: maxWindow,
		logger:    logger,
	}
}

// RegisterRoutes registers analytics API routes
func (h *AnalyticsHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/analytics/{applicationId}/heatmap", h.getHeatMap).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/{applicationId}/modules/{moduleName}/analytics", h.getModuleAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/{applicationId}/unused-modules", h.getUnusedModules).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/{applicationId}/modules/{moduleName}/top-users", h.getTopUsers).Methods(http.MethodGet)
}

// getHeatMap handles GET /api/analytics/{applicationId}/heatmap
// Query params:
//   - start_date: RFC 3339 or YYYY-MM-DD - default: now-30d
//   - end_date: RFC 3339 or YYYY-MM-DD - default: now
func (h *AnalyticsHandlers) getHeatMap(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "applicationId")
	if !ok {
		return
	}
	window, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	heatMap, err := h.service.HeatMap(r.Context(), appID, window)
	if err != nil {
		h.writeAggregationError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, toHeatMapResponse(heatMap))
}

// getModuleAnalytics handles GET /api/analytics/{applicationId}/modules/{moduleName}/analytics
// Query params: start_date, end_date as for the heat map.
func (h *AnalyticsHandlers) getModuleAnalytics(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "applicationId")
	if !ok {
		return
	}
	moduleName, ok := httputil.ParsePathStringOrError(w, r, "moduleName")
	if !ok {
		return
	}
	window, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	metrics, err := h.service.ModuleMetrics(r.Context(), appID, moduleName, window)
	if err != nil {
		h.writeAggregationError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, ModuleAnalyticsResponse{
		ApplicationID: appID,
		ModuleName:    moduleName,
		Period:        periodOf(window),
		Metrics:       toMetricsDTO(metrics),
	})
}

// getUnusedModules handles GET /api/analytics/{applicationId}/unused-modules
// Query params:
//   - days_since_last_access: inactivity threshold in days - default: 30
func (h *AnalyticsHandlers) getUnusedModules(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "applicationId")
	if !ok {
		return
	}
	days, err := httputil.ParseQueryInt(r, "days_since_last_access", analytics.DefaultUnusedDays)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if days <= 0 {
		httputil.WriteBadRequest(w, "days_since_last_access must be positive")
		return
	}

	unused, cutoff, err := h.service.UnusedSince(r.Context(), appID, days)
	if err != nil {
		h.writeAggregationError(w, r, err)
		return
	}
	if unused == nil {
		unused = []string{}
	}

	httputil.WriteSuccess(w, UnusedModulesResponse{
		ApplicationID:       appID,
		DaysSinceLastAccess: days,
		Cutoff:              cutoff,
		UnusedModules:       unused,
		Count:               len(unused),
		Recommendations:     unusedModuleRecommendations,
	})
}

// getTopUsers handles GET /api/analytics/{applicationId}/modules/{moduleName}/top-users
// Ranks users over the trailing 30 days.
// Query params:
//   - limit: number of users (1-100) - default: 10
func (h *AnalyticsHandlers) getTopUsers(w http.ResponseWriter, r *http.Request) {
	appID, ok := httputil.ParsePathStringOrError(w, r, "applicationId")
	if !ok {
		return
	}
	moduleName, ok := httputil.ParsePathStringOrError(w, r, "moduleName")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", analytics.DefaultTopUsersLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	limit = analytics.ClampTopUsersLimit(limit)

	window := analytics.TrailingWindow(h.service.Now().UTC(), analytics.DefaultWindow)
	users, err := h.service.TopUsersForModule(r.Context(), appID, moduleName, window.Start, limit)
	if err != nil {
		h.writeAggregationError(w, r, err)
		return
	}
	if users == nil {
		users = []string{}
	}

	httputil.WriteSuccess(w, TopUsersResponse{
		ApplicationID:   appID,
		ModuleName:      moduleName,
		Period:          periodOf(window),
		TopUsers:        users,
		Recommendations: topUserRecommendations,
	})
}

// parseWindow resolves start_date/end_date. Inverted and oversized windows
// are rejected here even though the engine tolerates them.
func (h *AnalyticsHandlers) parseWindow(w http.ResponseWriter, r *http.Request) (analytics.Window, bool) {
	start, err := httputil.ParseQueryTime(r, "start_date")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return analytics.Window{}, false
	}
	end, err := httputil.ParseQueryTime(r, "end_date")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return analytics.Window{}, false
	}

	window := h.service.ResolveWindow(start, end)
	if window.Empty() {
		httputil.WriteBadRequest(w, "end_date must not be before start_date")
		return analytics.Window{}, false
	}
	if window.End.Sub(window.Start) > h.maxWindow {
		httputil.WriteBadRequest(w, fmt.Sprintf("window exceeds the maximum of %d days", int(h.maxWindow.Hours()/24)))
		return analytics.Window{}, false
	}
	return window, true
}

func (h *AnalyticsHandlers) writeAggregationError(w http.ResponseWriter, r *http.Request, err error) {
	logger := httputil.RequestLogger(r, h.logger).WithError(err).WithField("path", r.URL.Path)
	if errors.Is(err, analytics.ErrAggregationUnavailable) {
		logger.Warn("aggregation unavailable")
		httputil.WriteServiceUnavailable(w, "aggregation unavailable")
		return
	}
	logger.Error("aggregation failed")
	httputil.WriteInternalError(w)
}
