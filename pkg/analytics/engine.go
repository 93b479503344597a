package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// MaxHeatMapTopUsers bounds the TopUsers list of each heat map entry.
	MaxHeatMapTopUsers = 5

	// DefaultTopUsersLimit is used when a caller passes a non-positive limit.
	DefaultTopUsersLimit = 10

	// MaxTopUsersLimit caps caller-supplied limits.
	MaxTopUsersLimit = 100
)

// DescriptorLookup resolves optional registry metadata for a module. It
// returns nil when the module is not registered.
type DescriptorLookup func(applicationID, moduleName string) *ModuleDescriptor

// ComputeModuleMetrics summarizes events observed within window. Events are
// expected to be pre-filtered to the window; an inverted window yields the
// zero result.
func ComputeModuleMetrics(events []AccessEvent, window Window) AccessMetrics {
	metrics := AccessMetrics{AccessTypeDistribution: make(map[AccessType]int)}
	if window.Empty() || len(events) == 0 {
		return metrics
	}

	users := make(map[string]struct{}, len(events))
	var totalDuration time.Duration
	for i := range events {
		e := &events[i]
		users[e.UserID] = struct{}{}
		totalDuration += e.Duration
		metrics.AccessTypeDistribution[e.AccessType]++

		if metrics.FirstAccess.IsZero() || e.AccessedAt.Before(metrics.FirstAccess) {
			metrics.FirstAccess = e.AccessedAt
		}
		if metrics.LastAccess.IsZero() || e.AccessedAt.After(metrics.LastAccess) {
			metrics.LastAccess = e.AccessedAt
		}
	}

	metrics.TotalAccesses = len(events)
	metrics.UniqueUsers = len(users)
	metrics.AverageSessionDuration = totalDuration / time.Duration(len(events))
	metrics.AccessFrequency = float64(metrics.TotalAccesses) / window.Days()
	return metrics
}

// ComputeHeatMap groups events by module and scores each module relative to
// the busiest one. Entries are ordered by heat score descending, then module
// name ascending.
func ComputeHeatMap(events []AccessEvent, window Window, lookup DescriptorLookup) []HeatMapEntry {
	entries := make([]HeatMapEntry, 0)
	if window.Empty() || len(events) == 0 {
		return entries
	}

	groups := groupByModule(events)
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	maxAccesses, maxUsers := 0, 0
	metricsByModule := make(map[string]AccessMetrics, len(groups))
	for _, name := range names {
		m := ComputeModuleMetrics(groups[name], window)
		metricsByModule[name] = m
		if m.TotalAccesses > maxAccesses {
			maxAccesses = m.TotalAccesses
		}
		if m.UniqueUsers > maxUsers {
			maxUsers = m.UniqueUsers
		}
	}

	for _, name := range names {
		group := groups[name]
		metrics := metricsByModule[name]

		entry := HeatMapEntry{
			ModuleName:         name,
			DisplayName:        name,
			Category:           DefaultCategory,
			HeatScore:          heatScore(metrics, maxAccesses, maxUsers),
			Metrics:            metrics,
			TopUsers:           rankUsers(group, MaxHeatMapTopUsers),
			HourlyDistribution: hourlyDistribution(group),
		}
		if lookup != nil {
			if d := lookup(group[0].ApplicationID, name); d != nil {
				if d.DisplayName != "" {
					entry.DisplayName = d.DisplayName
				}
				if d.Category != "" {
					entry.Category = d.Category
				}
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].HeatScore != entries[j].HeatScore {
			return entries[i].HeatScore > entries[j].HeatScore
		}
		return entries[i].ModuleName < entries[j].ModuleName
	})
	return entries
}

// Summarize derives the heat map header block. events must be the same set the
// entries were computed from; it is used for the distinct-user count.
func Summarize(entries []HeatMapEntry, events []AccessEvent) HeatMapSummary {
	summary := HeatMapSummary{TotalModules: len(entries)}

	users := make(map[string]struct{})
	for i := range events {
		users[events[i].UserID] = struct{}{}
	}
	summary.TotalUniqueUsers = len(users)

	var most, least *HeatMapEntry
	for i := range entries {
		e := &entries[i]
		summary.TotalAccesses += e.Metrics.TotalAccesses
		if e.Metrics.TotalAccesses > 0 {
			summary.ActiveModules++
		} else {
			summary.UnusedModules++
		}
		if most == nil || e.Metrics.TotalAccesses > most.Metrics.TotalAccesses ||
			(e.Metrics.TotalAccesses == most.Metrics.TotalAccesses && e.ModuleName < most.ModuleName) {
			most = e
		}
		if least == nil || e.Metrics.TotalAccesses < least.Metrics.TotalAccesses ||
			(e.Metrics.TotalAccesses == least.Metrics.TotalAccesses && e.ModuleName < least.ModuleName) {
			least = e
		}
	}
	if most != nil {
		summary.MostUsedModule = most.ModuleName
		summary.LeastUsedModule = least.ModuleName
	}
	return summary
}

// TopUsers ranks the users in events by access count, breaking ties by user
// ID, and returns at most limit IDs. A non-positive limit selects
// DefaultTopUsersLimit.
func TopUsers(events []AccessEvent, limit int) []string {
	return rankUsers(events, ClampTopUsersLimit(limit))
}

// ClampTopUsersLimit applies the default and upper bound to a requested limit.
func ClampTopUsersLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopUsersLimit
	}
	if limit > MaxTopUsersLimit {
		return MaxTopUsersLimit
	}
	return limit
}

// UnusedModules returns the names present in allTime but absent from recent,
// sorted ascending.
func UnusedModules(allTime, recent []string) []string {
	seen := make(map[string]struct{}, len(recent))
	for _, name := range recent {
		seen[name] = struct{}{}
	}

	unused := make([]string, 0)
	emitted := make(map[string]struct{})
	for _, name := range allTime {
		if _, ok := seen[name]; ok {
			continue
		}
		if _, ok := emitted[name]; ok {
			continue
		}
		emitted[name] = struct{}{}
		unused = append(unused, name)
	}
	sort.Strings(unused)
	return unused
}

// UnusedModulesFromEvents applies the unused rule to an in-memory event set:
// a module is unused when it has events but none at or after cutoff.
func UnusedModulesFromEvents(events []AccessEvent, cutoff time.Time) []string {
	var all, recent []string
	for i := range events {
		all = append(all, events[i].ModuleName)
		if !events[i].AccessedAt.Before(cutoff) {
			recent = append(recent, events[i].ModuleName)
		}
	}
	return UnusedModules(all, recent)
}

func groupByModule(events []AccessEvent) map[string][]AccessEvent {
	groups := make(map[string][]AccessEvent)
	for _, e := range events {
		groups[e.ModuleName] = append(groups[e.ModuleName], e)
	}
	return groups
}

func heatScore(m AccessMetrics, maxAccesses, maxUsers int) int {
	var accessScore, userScore float64
	if maxAccesses > 0 {
		accessScore = float64(m.TotalAccesses) / float64(maxAccesses) * 50
	}
	if maxUsers > 0 {
		userScore = float64(m.UniqueUsers) / float64(maxUsers) * 50
	}
	score := int(math.Round(accessScore + userScore))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func rankUsers(events []AccessEvent, limit int) []string {
	counts := make(map[string]int)
	for i := range events {
		counts[events[i].UserID]++
	}

	users := make([]string, 0, len(counts))
	for user := range counts {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if counts[users[i]] != counts[users[j]] {
			return counts[users[i]] > counts[users[j]]
		}
		return users[i] < users[j]
	})

	if len(users) > limit {
		users = users[:limit]
	}
	return users
}

func hourlyDistribution(events []AccessEvent) map[string]int {
	dist := make(map[string]int)
	for i := range events {
		dist[fmt.Sprintf("%02d", events[i].AccessedAt.UTC().Hour())]++
	}
	return dist
}
