// Package logger provides the structured logger used across mediaindex.
//
// It wraps go.uber.org/zap with a small, uniform API. Every call takes a
// message, an optional error and any number of field maps:
//
//	log := logger.NewLoggerClient(logger.Config{Level: logger.Info, ServiceName: "mediaindex-worker"})
//	log.Info("job indexed", nil, map[string]interface{}{
//		"media_id": id,
//		"attempt":  2,
//	})
//	log.Error("vector upsert failed", err, nil)
//
// Other packages never import this package directly for the type. They declare
// their own Logger interface with the same five methods, and *Logger satisfies
// all of them. Tests pass logger.NewNop().
//
// When Config.EnableTracing is set, WithContext tags entries with the
// OpenTelemetry trace_id and span_id of the active span.
//
// FXModule provides *Logger and flushes it on shutdown.
package logger
