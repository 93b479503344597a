// Package report publishes unused-module sweep reports.
//
// Two sinks implement analytics.ReportSink: LogSink emits a structured log
// line per application, and S3Sink uploads the whole report as JSON to
// <prefix>/unused-modules/<timestamp>.json in an S3 (or S3-compatible)
// bucket.
package report
