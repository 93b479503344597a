package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

// UnusedModuleReport is the result of one sweep across all applications.
type UnusedModuleReport struct {
	GeneratedAt  time.Time                  `json:"generated_at"`
	Cutoff       time.Time                  `json:"cutoff"`
	Applications []ApplicationUnusedModules `json:"applications"`
	Failed       []string                   `json:"failed,omitempty"`
}

// ApplicationUnusedModules lists the unused modules of one application.
type ApplicationUnusedModules struct {
	ApplicationID string   `json:"application_id"`
	Modules       []string `json:"modules"`
}

// TotalUnused counts unused modules across all applications.
func (r *UnusedModuleReport) TotalUnused() int {
	n := 0
	for _, app := range r.Applications {
		n += len(app.Modules)
	}
	return n
}

// ReportSink receives finished sweep reports.
type ReportSink interface {
	Name() string
	Publish(ctx context.Context, report *UnusedModuleReport) error
}

// Sweeper runs unused-module detection for every known application.
type Sweeper struct {
	service     *Service
	events      EventStore
	sinks       []ReportSink
	logger      *observability.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

// NewSweeper creates a sweeper publishing to sinks.
func NewSweeper(service *Service, events EventStore, sinks []ReportSink, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Sweeper{
		service:     service,
		events:      events,
		sinks:       sinks,
		logger:      logger.WithField("component", "sweeper"),
		metrics:     metrics,
		concurrency: 4,
		now:         time.Now,
	}
}

// Run sweeps all applications with the given inactivity threshold in days.
// Applications that fail are listed in the report and skipped; Run only
// returns an error when the application list cannot be read or every sink
// fails.
func (s *Sweeper) Run(ctx context.Context, days int) (*UnusedModuleReport, error) {
	if days <= 0 {
		days = DefaultUnusedDays
	}
	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, -days)

	apps, err := s.events.Applications(ctx)
	if err != nil {
		s.metrics.SweepCompleted(nil, err)
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	report := &UnusedModuleReport{
		GeneratedAt:  now,
		Cutoff:       cutoff,
		Applications: make([]ApplicationUnusedModules, 0, len(apps)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, app := range apps {
		app := app
		g.Go(func() error {
			unused, err := s.sweepApplication(gctx, app, cutoff)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.WithError(err).WithField("application_id", app).Warn("unused module sweep failed for application")
				report.Failed = append(report.Failed, app)
				return nil
			}
			report.Applications = append(report.Applications, ApplicationUnusedModules{
				ApplicationID: app,
				Modules:       unused,
			})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Applications, func(i, j int) bool {
		return report.Applications[i].ApplicationID < report.Applications[j].ApplicationID
	})
	sort.Strings(report.Failed)

	counts := make(map[string]int, len(report.Applications))
	for _, app := range report.Applications {
		counts[app.ApplicationID] = len(app.Modules)
	}

	if err := s.publish(ctx, report); err != nil {
		s.metrics.SweepCompleted(nil, err)
		return report, err
	}

	s.metrics.SweepCompleted(counts, nil)
	s.logger.WithFields(map[string]interface{}{
		"applications": len(report.Applications),
		"failed":       len(report.Failed),
		"unused":       report.TotalUnused(),
		"cutoff":       cutoff.Format(time.RFC3339),
	}).Info("unused module sweep completed")
	return report, nil
}

func (s *Sweeper) sweepApplication(ctx context.Context, app string, cutoff time.Time) (unused []string, err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			s.logger.WithError(perr).WithField("application_id", app).Error("PANIC recovered during sweep")
			unused, err = nil, perr
		}
	}()
	return s.service.FindUnusedModules(ctx, app, cutoff)
}

func (s *Sweeper) publish(ctx context.Context, report *UnusedModuleReport) error {
	if len(s.sinks) == 0 {
		return nil
	}

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, report); err != nil {
			s.logger.WithError(err).WithField("sink", sink.Name()).Error("failed to publish sweep report")
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	if len(errs) == len(s.sinks) {
		return fmt.Errorf("all report sinks failed: %w", errors.Join(errs...))
	}
	return nil
}
