package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

const (
	// DefaultWindow is the trailing window used when a caller gives no dates.
	DefaultWindow = 30 * 24 * time.Hour

	// DefaultUnusedDays is the default inactivity threshold for unused modules.
	DefaultUnusedDays = 30

	descriptorFetchConcurrency = 8
)

// Service answers analytics queries by fetching raw events and running the
// aggregation engine over them. It keeps no state between calls.
type Service struct {
	events   EventStore
	registry ModuleRegistry
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewService creates an analytics service. registry, logger and metrics may be nil.
func NewService(events EventStore, registry ModuleRegistry, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		events:   events,
		registry: registry,
		logger:   logger.WithField("component", "analytics"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// HeatMap is a heat map over one application and window.
type HeatMap struct {
	ApplicationID string
	Window        Window
	Modules       []HeatMapEntry
	Summary       HeatMapSummary
}

// ResolveWindow fills in the default trailing window for missing bounds.
func (s *Service) ResolveWindow(start, end *time.Time) Window {
	now := s.now().UTC()
	w := TrailingWindow(now, DefaultWindow)
	if end != nil {
		w.End = end.UTC()
	}
	if start != nil {
		w.Start = start.UTC()
	} else if end != nil {
		w.Start = w.End.Add(-DefaultWindow)
	}
	return w
}

// HeatMap computes the heat map for applicationID over window.
func (s *Service) HeatMap(ctx context.Context, applicationID string, window Window) (*HeatMap, error) {
	started := time.Now()
	result := &HeatMap{
		ApplicationID: applicationID,
		Window:        window,
		Modules:       []HeatMapEntry{},
	}
	if window.Empty() {
		result.Summary = Summarize(nil, nil)
		return result, nil
	}

	events, err := s.fetchWindow(ctx, EventFilter{ApplicationID: applicationID}, window)
	if err != nil {
		s.metrics.ObserveAggregation("heatmap", started, 0, err)
		return nil, s.unavailable(err, "heatmap", applicationID)
	}

	descriptors := s.loadDescriptors(ctx, applicationID, events)
	result.Modules = ComputeHeatMap(events, window, func(_, name string) *ModuleDescriptor {
		return descriptors[name]
	})
	result.Summary = Summarize(result.Modules, events)

	s.metrics.ObserveAggregation("heatmap", started, len(events), nil)
	s.logger.WithFields(map[string]interface{}{
		"application_id": applicationID,
		"events":         len(events),
		"modules":        len(result.Modules),
	}).Debug("heat map computed")
	return result, nil
}

// ModuleMetrics computes metrics for one module over window.
func (s *Service) ModuleMetrics(ctx context.Context, applicationID, moduleName string, window Window) (AccessMetrics, error) {
	started := time.Now()
	if window.Empty() {
		return ComputeModuleMetrics(nil, window), nil
	}

	events, err := s.fetchWindow(ctx, EventFilter{ApplicationID: applicationID, ModuleName: moduleName}, window)
	if err != nil {
		s.metrics.ObserveAggregation("module_metrics", started, 0, err)
		return AccessMetrics{}, s.unavailable(err, "module_metrics", applicationID)
	}

	s.metrics.ObserveAggregation("module_metrics", started, len(events), nil)
	return ComputeModuleMetrics(events, window), nil
}

// FindUnusedModules returns the modules of applicationID that were accessed at
// some point but not at or after cutoff. Modules that were never accessed are
// not reported.
func (s *Service) FindUnusedModules(ctx context.Context, applicationID string, cutoff time.Time) ([]string, error) {
	started := time.Now()
	cutoff = cutoff.UTC()

	var allTime, recent []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names, err := s.events.ModuleNames(gctx, applicationID, nil)
		allTime = names
		return err
	})
	g.Go(func() error {
		names, err := s.events.ModuleNames(gctx, applicationID, &cutoff)
		recent = names
		return err
	})
	if err := g.Wait(); err != nil {
		s.metrics.ObserveAggregation("unused_modules", started, 0, err)
		return nil, s.unavailable(err, "unused_modules", applicationID)
	}

	s.metrics.ObserveAggregation("unused_modules", started, len(allTime), nil)
	return UnusedModules(allTime, recent), nil
}

// UnusedSince is FindUnusedModules with the cutoff expressed in days before now.
func (s *Service) UnusedSince(ctx context.Context, applicationID string, days int) ([]string, time.Time, error) {
	if days <= 0 {
		days = DefaultUnusedDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	unused, err := s.FindUnusedModules(ctx, applicationID, cutoff)
	return unused, cutoff, err
}

// TopUsersForModule ranks the users of a module over [windowStart, now].
func (s *Service) TopUsersForModule(ctx context.Context, applicationID, moduleName string, windowStart time.Time, limit int) ([]string, error) {
	started := time.Now()
	window := NewWindow(windowStart, s.now())
	if window.Empty() {
		return []string{}, nil
	}

	events, err := s.fetchWindow(ctx, EventFilter{ApplicationID: applicationID, ModuleName: moduleName}, window)
	if err != nil {
		s.metrics.ObserveAggregation("top_users", started, 0, err)
		return nil, s.unavailable(err, "top_users", applicationID)
	}

	s.metrics.ObserveAggregation("top_users", started, len(events), nil)
	return TopUsers(events, limit), nil
}

// Now exposes the service clock so transport code resolves relative dates
// consistently with the service.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) fetchWindow(ctx context.Context, filter EventFilter, window Window) ([]AccessEvent, error) {
	start, end := window.Start, window.End
	filter.Start = &start
	filter.End = &end
	return s.events.FetchEvents(ctx, filter)
}

// loadDescriptors resolves registry entries for every module in events.
// Registry failures degrade to the default display name and category.
func (s *Service) loadDescriptors(ctx context.Context, applicationID string, events []AccessEvent) map[string]*ModuleDescriptor {
	descriptors := make(map[string]*ModuleDescriptor)
	if s.registry == nil || len(events) == 0 {
		return descriptors
	}

	names := make(map[string]struct{})
	for i := range events {
		names[events[i].ModuleName] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(descriptorFetchConcurrency)
	for _, name := range sorted {
		name := name
		g.Go(func() error {
			d, err := s.registry.FetchModuleDescriptor(gctx, applicationID, name)
			if err != nil {
				s.logger.WithError(err).WithField("module", name).Warn("module descriptor lookup failed")
				return nil
			}
			if d != nil {
				mu.Lock()
				descriptors[name] = d
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return descriptors
}

func (s *Service) unavailable(err error, operation, applicationID string) error {
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"operation":      operation,
		"application_id": applicationID,
	}).Error("failed to retrieve events")
	return fmt.Errorf("%w: %s: %w", ErrAggregationUnavailable, operation, err)
}
