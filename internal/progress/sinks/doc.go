// Package sinks implements concrete progress consumers: Prometheus collectors,
// the capture_runs history table, and structured logging. Each sink satisfies
// progress.Sink and tolerates repeated Consume/Close cycles.
package sinks
