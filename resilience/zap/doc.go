// Package zap provides the zap-backed implementation of the log.Logger facade.
//
// Log events emitted with a context that carries an active OpenTelemetry span
// are enriched with trace_id and span_id fields.
package zap
