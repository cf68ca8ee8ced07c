// Package progress carries capture lifecycle events from orchestrators to
// pluggable sinks. Emit never blocks the capture pipeline; a background
// goroutine batches events and hands them to sinks such as Prometheus
// collectors, the run history table, or structured logs.
package progress
