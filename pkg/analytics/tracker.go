package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/validation"
)

// MaxBatchSize bounds TrackBatch requests.
const MaxBatchSize = 500

// TrackRequest is the ingestion payload for one module access.
type TrackRequest struct {
	ApplicationID string                 `json:"application_id" validate:"required,max=100"`
	UserID        string                 `json:"user_id" validate:"required,max=256"`
	ModuleName    string                 `json:"module_name" validate:"required,max=100"`
	ModuleURL     string                 `json:"module_url" validate:"required,max=2048"`
	AccessType    AccessType             `json:"access_type" validate:"valid_enum"`
	DurationMs    int64                  `json:"duration_ms,omitempty" validate:"gte=0"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	// Filled from the transport, never from the payload.
	UserAgent string `json:"-"`
	IPAddress string `json:"-"`
}

// ValidationError carries the field-level reasons an event was rejected.
type ValidationError struct {
	Fields []validation.FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidEvent, validation.Join(e.Fields))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// Messages lists the individual validation failures.
func (e *ValidationError) Messages() []string {
	return validation.Messages(e.Fields)
}

// TrackResult is the per-item outcome of a batch.
type TrackResult struct {
	ModuleName string
	EventID    string
	Err        error
}

// Tracker validates and records access events.
type Tracker struct {
	store   EventStore
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewTracker creates a tracker. logger and metrics may be nil.
func NewTracker(store EventStore, logger *observability.Logger, metrics *observability.Metrics) *Tracker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Tracker{
		store:   store,
		logger:  logger.WithField("component", "tracker"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Validate checks a request without recording it.
func Validate(req TrackRequest) error {
	if errs := validation.Struct(req); len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Track validates and records a single event, returning the stored event.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (*AccessEvent, error) {
	if err := Validate(req); err != nil {
		t.metrics.RecordEvent(accessTypeLabel(req.AccessType), "rejected")
		return nil, err
	}

	event := t.toAccessEvent(req)
	if err := t.store.RecordEvent(ctx, event); err != nil {
		t.metrics.RecordEvent(event.AccessType.String(), "error")
		t.logger.WithError(err).WithFields(map[string]interface{}{
			"application_id": event.ApplicationID,
			"module":         event.ModuleName,
		}).Error("failed to record access event")
		return nil, fmt.Errorf("failed to record access event: %w", err)
	}

	t.metrics.RecordEvent(event.AccessType.String(), "accepted")
	return event, nil
}

// TrackBatch records every valid request in one store call. Invalid items are
// reported individually and do not prevent the valid ones from being stored.
// The returned error is non-nil only when the store write itself fails.
func (t *Tracker) TrackBatch(ctx context.Context, reqs []TrackRequest) ([]TrackResult, error) {
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit of %d", ErrInvalidEvent, len(reqs), MaxBatchSize)
	}

	results := make([]TrackResult, len(reqs))
	valid := make([]*AccessEvent, 0, len(reqs))
	positions := make([]int, 0, len(reqs))

	for i, req := range reqs {
		results[i].ModuleName = req.ModuleName
		if err := Validate(req); err != nil {
			results[i].Err = err
			t.metrics.RecordEvent(accessTypeLabel(req.AccessType), "rejected")
			continue
		}
		event := t.toAccessEvent(req)
		valid = append(valid, event)
		positions = append(positions, i)
	}

	if len(valid) == 0 {
		return results, nil
	}

	if err := t.store.RecordEvents(ctx, valid); err != nil {
		t.logger.WithError(err).WithField("events", len(valid)).Error("failed to record access event batch")
		for _, i := range positions {
			results[i].Err = fmt.Errorf("failed to record access event: %w", err)
		}
		for _, e := range valid {
			t.metrics.RecordEvent(e.AccessType.String(), "error")
		}
		return results, fmt.Errorf("failed to record access event batch: %w", err)
	}

	for n, i := range positions {
		results[i].EventID = valid[n].ID
		t.metrics.RecordEvent(valid[n].AccessType.String(), "accepted")
	}
	return results, nil
}

func (t *Tracker) toAccessEvent(req TrackRequest) *AccessEvent {
	return &AccessEvent{
		ID:            uuid.NewString(),
		ApplicationID: req.ApplicationID,
		UserID:        req.UserID,
		ModuleName:    req.ModuleName,
		ModuleURL:     req.ModuleURL,
		AccessType:    req.AccessType,
		AccessedAt:    t.now().UTC(),
		Duration:      time.Duration(req.DurationMs) * time.Millisecond,
		UserAgent:     req.UserAgent,
		IPAddress:     req.IPAddress,
		Metadata:      req.Metadata,
	}
}

func accessTypeLabel(t AccessType) string {
	if t.Valid() {
		return t.String()
	}
	return "invalid"
}
