package analytics

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return base.AddDate(0, 0, day).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func ev(module, user string, ts time.Time) AccessEvent {
	return AccessEvent{
		ApplicationID: "crm",
		UserID:        user,
		ModuleName:    module,
		ModuleURL:     "/" + module,
		AccessType:    AccessView,
		AccessedAt:    ts,
	}
}

func TestComputeModuleMetrics_Empty(t *testing.T) {
	w := NewWindow(base, base.AddDate(0, 0, 30))
	m := ComputeModuleMetrics(nil, w)

	if m.TotalAccesses != 0 || m.UniqueUsers != 0 || m.AccessFrequency != 0 {
		t.Errorf("expected zero metrics, got %+v", m)
	}
	if !m.FirstAccess.IsZero() || !m.LastAccess.IsZero() {
		t.Errorf("expected zero timestamps, got %v %v", m.FirstAccess, m.LastAccess)
	}
	if m.AccessTypeDistribution == nil || len(m.AccessTypeDistribution) != 0 {
		t.Errorf("expected empty non-nil distribution, got %v", m.AccessTypeDistribution)
	}
	if m.AverageSessionDuration != 0 {
		t.Errorf("expected zero average duration, got %v", m.AverageSessionDuration)
	}
}

func TestComputeModuleMetrics(t *testing.T) {
	events := []AccessEvent{
		ev("reports", "alice", at(2, 9, 0)),
		ev("reports", "alice", at(1, 9, 0)),
		ev("reports", "bob", at(5, 14, 0)),
		ev("reports", "carol", at(3, 10, 0)),
	}
	events[0].Duration = 10 * time.Second
	events[1].Duration = 20 * time.Second
	events[2].AccessType = AccessExport
	events[3].AccessType = AccessExport

	w := NewWindow(base, base.AddDate(0, 0, 10))
	m := ComputeModuleMetrics(events, w)

	if m.TotalAccesses != 4 {
		t.Errorf("TotalAccesses = %d, want 4", m.TotalAccesses)
	}
	if m.UniqueUsers != 3 {
		t.Errorf("UniqueUsers = %d, want 3", m.UniqueUsers)
	}
	if m.AverageSessionDuration != 7500*time.Millisecond {
		t.Errorf("AverageSessionDuration = %v, want 7.5s", m.AverageSessionDuration)
	}
	if !m.FirstAccess.Equal(at(1, 9, 0)) {
		t.Errorf("FirstAccess = %v", m.FirstAccess)
	}
	if !m.LastAccess.Equal(at(5, 14, 0)) {
		t.Errorf("LastAccess = %v", m.LastAccess)
	}
	if m.AccessFrequency != 0.4 {
		t.Errorf("AccessFrequency = %v, want 0.4", m.AccessFrequency)
	}
	want := map[AccessType]int{AccessView: 2, AccessExport: 2}
	if !reflect.DeepEqual(m.AccessTypeDistribution, want) {
		t.Errorf("AccessTypeDistribution = %v, want %v", m.AccessTypeDistribution, want)
	}
}

func TestComputeModuleMetrics_ShortWindowFloorsToOneDay(t *testing.T) {
	events := []AccessEvent{
		ev("reports", "alice", base),
		ev("reports", "bob", base.Add(time.Hour)),
	}
	w := NewWindow(base, base.Add(2*time.Hour))
	m := ComputeModuleMetrics(events, w)
	if m.AccessFrequency != 2 {
		t.Errorf("AccessFrequency = %v, want 2", m.AccessFrequency)
	}
}

func TestComputeModuleMetrics_InvertedWindow(t *testing.T) {
	events := []AccessEvent{ev("reports", "alice", base)}
	w := NewWindow(base.AddDate(0, 0, 1), base)
	m := ComputeModuleMetrics(events, w)
	if m.TotalAccesses != 0 {
		t.Errorf("expected empty result for inverted window, got %+v", m)
	}

	if hm := ComputeHeatMap(events, w, nil); len(hm) != 0 {
		t.Errorf("expected empty heat map for inverted window, got %d entries", len(hm))
	}
}

func TestComputeModuleMetrics_UniqueUsersNeverExceedTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	w := NewWindow(base, base.AddDate(0, 0, 30))

	for i := 0; i < 50; i++ {
		n := rng.Intn(200)
		events := make([]AccessEvent, n)
		for j := range events {
			events[j] = ev("m", fmt.Sprintf("user-%d", rng.Intn(20)), at(rng.Intn(30), rng.Intn(24), 0))
		}
		m := ComputeModuleMetrics(events, w)
		if m.UniqueUsers > m.TotalAccesses {
			t.Fatalf("UniqueUsers %d > TotalAccesses %d", m.UniqueUsers, m.TotalAccesses)
		}
	}
}

func TestComputeHeatMap_Scenario(t *testing.T) {
	events := []AccessEvent{
		ev("reports", "alice", at(0, 9, 15)),
		ev("reports", "bob", at(0, 9, 45)),
		ev("reports", "alice", at(0, 14, 0)),
		ev("billing", "carol", at(0, 10, 0)),
	}
	w := NewWindow(base, base.AddDate(0, 0, 1))

	entries := ComputeHeatMap(events, w, nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	reports := entries[0]
	if reports.ModuleName != "reports" {
		t.Fatalf("expected reports first, got %s", reports.ModuleName)
	}
	if reports.Metrics.TotalAccesses != 3 {
		t.Errorf("reports total = %d, want 3", reports.Metrics.TotalAccesses)
	}
	if !reflect.DeepEqual(reports.HourlyDistribution, map[string]int{"09": 2, "14": 1}) {
		t.Errorf("reports hourly = %v", reports.HourlyDistribution)
	}
	if reports.HeatScore != 100 {
		t.Errorf("reports heat = %d, want 100", reports.HeatScore)
	}
	if !reflect.DeepEqual(reports.TopUsers, []string{"alice", "bob"}) {
		t.Errorf("reports top users = %v", reports.TopUsers)
	}
	if reports.DisplayName != "reports" || reports.Category != DefaultCategory {
		t.Errorf("expected fallback descriptor, got %q/%q", reports.DisplayName, reports.Category)
	}

	billing := entries[1]
	// 1/3*50 + 1/2*50 = 41.67
	if billing.HeatScore != 42 {
		t.Errorf("billing heat = %d, want 42", billing.HeatScore)
	}
}

func TestComputeHeatMap_ScoreTerms(t *testing.T) {
	events := []AccessEvent{
		// busy: 4 accesses by one user
		ev("busy", "u1", at(0, 1, 0)),
		ev("busy", "u1", at(0, 2, 0)),
		ev("busy", "u1", at(0, 3, 0)),
		ev("busy", "u1", at(0, 4, 0)),
		// wide: 2 accesses by two users
		ev("wide", "u2", at(0, 5, 0)),
		ev("wide", "u3", at(0, 6, 0)),
	}
	entries := ComputeHeatMap(events, NewWindow(base, base.AddDate(0, 0, 1)), nil)

	scores := map[string]int{}
	for _, e := range entries {
		scores[e.ModuleName] = e.HeatScore
		if e.HeatScore < 0 || e.HeatScore > 100 {
			t.Errorf("%s score %d out of range", e.ModuleName, e.HeatScore)
		}
	}
	// busy: 50 + 1/2*50 = 75; wide: 2/4*50 + 50 = 75
	if scores["busy"] != 75 || scores["wide"] != 75 {
		t.Errorf("scores = %v", scores)
	}
	if entries[0].ModuleName != "busy" {
		t.Errorf("equal scores should order by module name, got %s first", entries[0].ModuleName)
	}
}

func TestComputeHeatMap_Registry(t *testing.T) {
	events := []AccessEvent{
		ev("reports", "alice", at(0, 9, 0)),
		ev("billing", "bob", at(0, 9, 0)),
		ev("audit", "bob", at(0, 9, 0)),
	}
	registry := map[string]*ModuleDescriptor{
		"reports": {Name: "reports", DisplayName: "Reports", Category: "Analytics"},
		"billing": {Name: "billing", DisplayName: "Billing"},
	}
	lookup := func(app, name string) *ModuleDescriptor {
		if app != "crm" {
			t.Errorf("unexpected application %q", app)
		}
		return registry[name]
	}

	entries := ComputeHeatMap(events, NewWindow(base, base.AddDate(0, 0, 1)), lookup)
	got := map[string][2]string{}
	for _, e := range entries {
		got[e.ModuleName] = [2]string{e.DisplayName, e.Category}
	}

	want := map[string][2]string{
		"reports": {"Reports", "Analytics"},
		"billing": {"Billing", DefaultCategory},
		"audit":   {"audit", DefaultCategory},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("descriptors = %v, want %v", got, want)
	}
}

func TestComputeHeatMap_TopUsersCappedAtFive(t *testing.T) {
	var events []AccessEvent
	for i, user := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		for j := 0; j <= i; j++ {
			events = append(events, ev("m", user, at(0, j, 0)))
		}
	}
	entries := ComputeHeatMap(events, NewWindow(base, base.AddDate(0, 0, 1)), nil)
	if !reflect.DeepEqual(entries[0].TopUsers, []string{"g", "f", "e", "d", "c"}) {
		t.Errorf("TopUsers = %v", entries[0].TopUsers)
	}
}

func TestComputeHeatMap_HourlyKeys(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	events := []AccessEvent{
		ev("m", "a", time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)),
		ev("m", "a", time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)),
		// 21:00 BRT is 00:00 UTC
		ev("m", "b", time.Date(2024, 3, 1, 21, 0, 0, 0, loc)),
	}
	entries := ComputeHeatMap(events, NewWindow(base, base.AddDate(0, 0, 2)), nil)
	hourly := entries[0].HourlyDistribution

	total := 0
	for k, v := range hourly {
		if len(k) != 2 {
			t.Errorf("hour key %q is not two digits", k)
		}
		total += v
	}
	if total != entries[0].Metrics.TotalAccesses {
		t.Errorf("hourly sum %d != total %d", total, entries[0].Metrics.TotalAccesses)
	}
	if hourly["00"] != 2 || hourly["23"] != 1 {
		t.Errorf("hourly = %v", hourly)
	}
}

func TestComputeHeatMap_Deterministic(t *testing.T) {
	events := []AccessEvent{
		ev("a", "u1", at(0, 1, 0)),
		ev("b", "u2", at(0, 2, 0)),
		ev("c", "u3", at(0, 3, 0)),
		ev("c", "u4", at(0, 3, 0)),
	}
	w := NewWindow(base, base.AddDate(0, 0, 1))
	first := ComputeHeatMap(events, w, nil)
	for i := 0; i < 20; i++ {
		shuffled := append([]AccessEvent(nil), events...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if got := ComputeHeatMap(shuffled, w, nil); !reflect.DeepEqual(got, first) {
			t.Fatalf("heat map not deterministic:\n%v\n%v", got, first)
		}
	}
}

func TestSummarize(t *testing.T) {
	events := []AccessEvent{
		ev("reports", "alice", at(0, 9, 0)),
		ev("reports", "bob", at(0, 9, 0)),
		ev("reports", "alice", at(0, 14, 0)),
		ev("billing", "carol", at(0, 10, 0)),
		ev("audit", "dave", at(0, 11, 0)),
	}
	entries := ComputeHeatMap(events, NewWindow(base, base.AddDate(0, 0, 1)), nil)
	s := Summarize(entries, events)

	want := HeatMapSummary{
		TotalModules:     3,
		ActiveModules:    3,
		UnusedModules:    0,
		TotalAccesses:    5,
		TotalUniqueUsers: 4,
		MostUsedModule:   "reports",
		LeastUsedModule:  "audit",
	}
	if s != want {
		t.Errorf("Summarize = %+v, want %+v", s, want)
	}

	if empty := Summarize(nil, nil); empty != (HeatMapSummary{}) {
		t.Errorf("expected zero summary, got %+v", empty)
	}
}

func TestTopUsers(t *testing.T) {
	var events []AccessEvent
	for user, n := range map[string]int{"alice": 5, "bob": 3, "carol": 1} {
		for i := 0; i < n; i++ {
			events = append(events, ev("reports", user, at(0, i, 0)))
		}
	}

	if got := TopUsers(events, 2); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("TopUsers(2) = %v", got)
	}
	if got := TopUsers(events, 0); !reflect.DeepEqual(got, []string{"alice", "bob", "carol"}) {
		t.Errorf("TopUsers(0) = %v", got)
	}
	if got := TopUsers(nil, 5); len(got) != 0 {
		t.Errorf("TopUsers(nil) = %v", got)
	}

	tied := []AccessEvent{ev("m", "zed", base), ev("m", "amy", base), ev("m", "kim", base)}
	if got := TopUsers(tied, 10); !reflect.DeepEqual(got, []string{"amy", "kim", "zed"}) {
		t.Errorf("ties should sort by user id, got %v", got)
	}
}

func TestClampTopUsersLimit(t *testing.T) {
	tests := map[int]int{-1: 10, 0: 10, 3: 3, 100: 100, 1000: 100}
	for in, want := range tests {
		if got := ClampTopUsersLimit(in); got != want {
			t.Errorf("ClampTopUsersLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestUnusedModules(t *testing.T) {
	cutoff := at(10, 0, 0)
	events := []AccessEvent{
		ev("legacy", "a", at(1, 0, 0)),
		ev("legacy", "b", at(9, 23, 59)),
		ev("reports", "a", at(2, 0, 0)),
		ev("reports", "a", at(12, 0, 0)),
		ev("edge", "a", cutoff),
		ev("archive", "a", at(0, 0, 0)),
	}

	got := UnusedModulesFromEvents(events, cutoff)
	if !reflect.DeepEqual(got, []string{"archive", "legacy"}) {
		t.Errorf("UnusedModulesFromEvents = %v", got)
	}

	if got := UnusedModules(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
	if got := UnusedModules([]string{"b", "a", "a", "c"}, []string{"c"}); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("UnusedModules = %v", got)
	}
}

func TestWindow(t *testing.T) {
	w := NewWindow(base, base.AddDate(0, 0, 3))
	if w.Days() != 3 {
		t.Errorf("Days = %v, want 3", w.Days())
	}
	if !w.Contains(base) || !w.Contains(base.AddDate(0, 0, 3)) {
		t.Error("window should include both ends")
	}
	if w.Contains(base.Add(-time.Nanosecond)) {
		t.Error("window should exclude instants before start")
	}
	if w.Empty() {
		t.Error("window should not be empty")
	}
	if !NewWindow(base, base.Add(-time.Second)).Empty() {
		t.Error("inverted window should be empty")
	}

	tw := TrailingWindow(base, 24*time.Hour)
	if !tw.End.Equal(base) || !tw.Start.Equal(base.Add(-24*time.Hour)) {
		t.Errorf("TrailingWindow = %+v", tw)
	}
}
