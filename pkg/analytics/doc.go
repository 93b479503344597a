// Package analytics turns raw module access events into usage analytics.
//
// # Overview
//
// Applications report every time a user touches one of their modules. This
// package validates and records those events and, on request, aggregates a
// window of them into:
//
//   - per-module access metrics (totals, unique users, frequency, type mix)
//   - a heat map scoring every module relative to the busiest one
//   - the set of modules that went quiet before a cutoff
//   - the most active users of a module
//
// Nothing derived is stored. Each query re-reads raw events from the
// EventStore and recomputes.
//
// # Heat score
//
// For a module with a accesses and u unique users, where A and U are the
// maxima across all modules in the window:
//
//	score = round(a/A*50 + u/U*50)
//
// The busiest and most widely used module scores 100.
//
// # Usage Example
//
//	svc := analytics.NewService(store, registry, logger, metrics)
//	hm, err := svc.HeatMap(ctx, "crm", svc.ResolveWindow(nil, nil))
//	if errors.Is(err, analytics.ErrAggregationUnavailable) {
//		// storage is down; distinct from an empty heat map
//	}
//	for _, m := range hm.Modules {
//		fmt.Printf("%-20s %3d %v\n", m.DisplayName, m.HeatScore, m.TopUsers)
//	}
//
// # Related Packages
//
//   - pkg/storage/sqlstore: EventStore and ModuleRegistry on SQL
//   - pkg/storage/cache: cached ModuleRegistry
//   - pkg/report: sinks for sweep reports
package analytics
