// Package cli implements heatmapctl, a command line front end to the heat
// map HTTP API built on pkg/client.
//
//	heatmapctl --app crm track invoices --user u-42
//	heatmapctl --app crm heatmap --from 2024-01-01 --to 2024-01-31
//	heatmapctl --app crm unused --days 60 -o json
package cli
