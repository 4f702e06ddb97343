// Package log defines the structured logging facade for lib-resilience.
//
// The Logger interface is intentionally small: leveled events with typed
// fields, child loggers via With/WithGroup, and a Sync hook for flushing.
// The zap package provides the production implementation; NewNop is the
// implementation of choice for tests.
package log
