package report

import (
	"context"
	"time"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

// LogSink writes one structured log line per application in a sweep report.
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSink{logger: logger.WithField("sink", "log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, report *analytics.UnusedModuleReport) error {
	cutoff := report.Cutoff.Format(time.RFC3339)
	for _, app := range report.Applications {
		entry := s.logger.WithFields(map[string]interface{}{
			"application_id": app.ApplicationID,
			"unused_count":   len(app.Modules),
			"cutoff":         cutoff,
		})
		if len(app.Modules) == 0 {
			entry.Info("no unused modules")
			continue
		}
		entry.WithField("modules", app.Modules).Warn("unused modules detected")
	}
	for _, app := range report.Failed {
		s.logger.WithField("application_id", app).Error("unused module detection failed")
	}
	return nil
}
