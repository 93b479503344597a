package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/httputil"
	"github.com/debjordan/ModuleHeatmap/pkg/middleware"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

// ServiceName identifies the API in service info and traces.
const ServiceName = "module-heatmap"

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Options wires the server's collaborators. Service, Tracker and Registry
// are required; everything else is optional.
type Options struct {
	Service  *analytics.Service
	Tracker  *analytics.Tracker
	Registry analytics.ModuleRegistry

	RateLimit       *middleware.RateLimitMiddleware
	Health          *observability.HealthChecker
	Metrics         *observability.Metrics
	MetricsRegistry *prometheus.Registry
	Logger          *observability.Logger

	MaxWindow    time.Duration
	MaxBodyBytes int64
	Version      string
	Tracing      bool

	// CORSOrigins enables CORS for browser trackers. "*" allows any origin.
	CORSOrigins []string
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	version string

	analyticsHandlers *AnalyticsHandlers
	trackingHandlers  *TrackingHandlers
	moduleHandlers    *ModuleHandlers
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router:            mux.NewRouter(),
		logger:            opts.Logger,
		version:           opts.Version,
		analyticsHandlers: NewAnalyticsHandlers(opts.Service, opts.MaxWindow, opts.Logger),
		trackingHandlers:  NewTrackingHandlers(opts.Tracker, opts.Logger),
		moduleHandlers:    NewModuleHandlers(opts.Registry, opts.Logger),
	}
	s.setupRoutes(opts)

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.RequestIDMiddleware(opts.Logger),
		httputil.LoggingMiddleware(opts.Logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)(s.router)
	if len(opts.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", httputil.HeaderApplicationID, httputil.HeaderRequestID},
			ExposedHeaders: []string{httputil.HeaderRequestID, "Retry-After"},
			MaxAge:         600,
		}).Handler(handler)
	}
	if opts.Tracing {
		handler = observability.TracingMiddleware(ServiceName)(handler)
	}
	s.handler = handler
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(opts Options) {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}

	s.router.HandleFunc("/", s.serviceInfo).Methods(http.MethodGet)

	// Tracking routes share a subrouter so only ingestion is rate limited.
	tracking := s.router.NewRoute().Subrouter()
	if opts.RateLimit != nil {
		tracking.Use(opts.RateLimit.Handler)
	}
	s.trackingHandlers.RegisterRoutes(tracking)

	s.analyticsHandlers.RegisterRoutes(s.router)
	s.moduleHandlers.RegisterRoutes(s.router)

	if opts.Health != nil {
		observability.RegisterHealthRoutes(s.router, opts.Health)
	}
	if opts.MetricsRegistry != nil {
		observability.RegisterMetricsEndpoint(s.router, opts.MetricsRegistry)
	}
}

// serviceInfo handles GET /
func (s *Server) serviceInfo(w http.ResponseWriter, r *http.Request) {
	var endpoints []string
	_ = s.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		for _, m := range methods {
			endpoints = append(endpoints, m+" "+tpl)
		}
		return nil
	})

	httputil.WriteSuccess(w, ServiceInfo{
		Service:   ServiceName,
		Version:   s.version,
		Endpoints: endpoints,
	})
}

// Router exposes the route table, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
