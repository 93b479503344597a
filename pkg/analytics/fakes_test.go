package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory EventStore and ModuleRegistry for service tests.
type memStore struct {
	mu          sync.Mutex
	events      []AccessEvent
	descriptors map[string]*ModuleDescriptor
	fetchErr    error
	namesErr    error
	recordErr   error
	appsErr     error
	registryErr error
	failApps    map[string]bool
}

func newMemStore(events ...AccessEvent) *memStore {
	return &memStore{events: events, descriptors: map[string]*ModuleDescriptor{}, failApps: map[string]bool{}}
}

func (m *memStore) RecordEvent(_ context.Context, e *AccessEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) RecordEvents(ctx context.Context, events []*AccessEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	for _, e := range events {
		m.events = append(m.events, *e)
	}
	return nil
}

func (m *memStore) FetchEvents(_ context.Context, f EventFilter) ([]AccessEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []AccessEvent
	for _, e := range m.events {
		if f.ApplicationID != "" && e.ApplicationID != f.ApplicationID {
			continue
		}
		if f.ModuleName != "" && e.ModuleName != f.ModuleName {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
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
	if m.namesErr != nil {
		return nil, m.namesErr
	}
	if m.failApps[app] {
		return nil, errBoom
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
	if m.appsErr != nil {
		return nil, m.appsErr
	}
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

func (m *memStore) FetchModuleDescriptor(_ context.Context, app, name string) (*ModuleDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registryErr != nil {
		return nil, m.registryErr
	}
	return m.descriptors[app+"/"+name], nil
}

func (m *memStore) UpsertModuleDescriptor(_ context.Context, d *ModuleDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[d.ApplicationID+"/"+d.Name] = d
	return nil
}

func (m *memStore) ListModuleDescriptors(_ context.Context, app string) ([]ModuleDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ModuleDescriptor
	for _, d := range m.descriptors {
		if d.ApplicationID == app {
			out = append(out, *d)
		}
	}
	return out, nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errBoom = errString("connection refused")

type recordingSink struct {
	name    string
	err     error
	reports []*UnusedModuleReport
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, r *UnusedModuleReport) error {
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, r)
	return nil
}
