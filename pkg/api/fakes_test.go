package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
)

type errString string

func (e errString) Error() string { return string(e) }

const errDown = errString("dial tcp 10.0.0.5:5432: connection refused")

// memStore is an in-memory EventStore and ModuleRegistry.
type memStore struct {
	mu          sync.Mutex
	events      []analytics.AccessEvent
	descriptors map[string]analytics.ModuleDescriptor
	readErr     error
	writeErr    error
	registryErr error
	panicOnRead bool
}

func newMemStore(events ...analytics.AccessEvent) *memStore {
	return &memStore{events: events, descriptors: map[string]analytics.ModuleDescriptor{}}
}

func (m *memStore) RecordEvent(ctx context.Context, e *analytics.AccessEvent) error {
	return m.RecordEvents(ctx, []*analytics.AccessEvent{e})
}

func (m *memStore) RecordEvents(_ context.Context, events []*analytics.AccessEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, e := range events {
		m.events = append(m.events, *e)
	}
	return nil
}

func (m *memStore) FetchEvents(_ context.Context, f analytics.EventFilter) ([]analytics.AccessEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnRead {
		panic("corrupted row")
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := []analytics.AccessEvent{}
	for _, e := range m.events {
		if f.ApplicationID != "" && e.ApplicationID != f.ApplicationID {
			continue
		}
		if f.ModuleName != "" && e.ModuleName != f.ModuleName {
			continue
		}
		if f.Start != nil && e.AccessedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && e.AccessedAt.After(*f.End) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AccessedAt.After(out[j].AccessedAt) })
	return out, nil
}

func (m *memStore) ModuleNames(_ context.Context, app string, since *time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range m.events {
		if e.ApplicationID != app || seen[e.ModuleName] {
			continue
		}
		if since != nil && e.AccessedAt.Before(*since) {
			continue
		}
		seen[e.ModuleName] = true
		out = append(out, e.ModuleName)
	}
	return out, nil
}

func (m *memStore) Applications(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, e := range m.events {
		if !seen[e.ApplicationID] {
			seen[e.ApplicationID] = true
			out = append(out, e.ApplicationID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) FetchModuleDescriptor(_ context.Context, app, name string) (*analytics.ModuleDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registryErr != nil {
		return nil, m.registryErr
	}
	d, ok := m.descriptors[app+"/"+name]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *memStore) UpsertModuleDescriptor(_ context.Context, d *analytics.ModuleDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registryErr != nil {
		return m.registryErr
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := *d
	if existing, ok := m.descriptors[d.ApplicationID+"/"+d.Name]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.descriptors[d.ApplicationID+"/"+d.Name] = stored
	return nil
}

func (m *memStore) ListModuleDescriptors(_ context.Context, app string) ([]analytics.ModuleDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registryErr != nil {
		return nil, m.registryErr
	}
	var out []analytics.ModuleDescriptor
	for _, d := range m.descriptors {
		if d.ApplicationID == app {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) recorded() []analytics.AccessEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]analytics.AccessEvent(nil), m.events...)
}

func event(app, module, user string, at time.Time) analytics.AccessEvent {
	return analytics.AccessEvent{
		ID:            module + "-" + user + "-" + at.Format(time.RFC3339),
		ApplicationID: app,
		UserID:        user,
		ModuleName:    module,
		ModuleURL:     "/" + module,
		AccessType:    analytics.AccessView,
		AccessedAt:    at.UTC(),
		Duration:      90 * time.Second,
	}
}
