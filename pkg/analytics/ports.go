package analytics

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAggregationUnavailable wraps any failure to retrieve the data an
	// aggregation needs. It is distinct from a successful empty result.
	ErrAggregationUnavailable = errors.New("aggregation unavailable")

	// ErrInvalidEvent is returned by the tracker for events that fail validation.
	ErrInvalidEvent = errors.New("invalid access event")
)

// EventFilter restricts FetchEvents. Empty strings and nil times are unconstrained.
type EventFilter struct {
	ApplicationID string
	ModuleName    string
	UserID        string
	Start         *time.Time
	End           *time.Time
}

// EventStore persists access events and serves raw event queries.
type EventStore interface {
	RecordEvent(ctx context.Context, event *AccessEvent) error
	RecordEvents(ctx context.Context, events []*AccessEvent) error
	// FetchEvents returns matching events ordered by AccessedAt descending.
	FetchEvents(ctx context.Context, filter EventFilter) ([]AccessEvent, error)
	// ModuleNames returns the distinct module names with at least one event
	// at or after since (all time when since is nil).
	ModuleNames(ctx context.Context, applicationID string, since *time.Time) ([]string, error)
	// Applications returns every application ID with recorded events.
	Applications(ctx context.Context) ([]string, error)
}

// ModuleRegistry stores optional module descriptors.
type ModuleRegistry interface {
	// FetchModuleDescriptor returns nil, nil when the module is not registered.
	FetchModuleDescriptor(ctx context.Context, applicationID, name string) (*ModuleDescriptor, error)
	UpsertModuleDescriptor(ctx context.Context, descriptor *ModuleDescriptor) error
	ListModuleDescriptors(ctx context.Context, applicationID string) ([]ModuleDescriptor, error)
}
