package logging

import (
	"log/slog"
	"os"
)

// InitStructured reconfigures the operational logger from
// config.Observability.Logging/Daemon.LogLevel at executor/kvsnode startup.
// format: "text" (default) or "json" (Loki/ELK compatible)
// level: "debug", "info", "warn", "error"
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	opLogger.Store(logger)
}

// OpWithTrace returns the operational logger annotated with the trace_id/
// span_id recovered from a DagTrigger's TraceParent/TraceState (see
// internal/observability.InjectTraceContext), so a trigger-received log
// line correlates with the span the upstream hop recorded for the same
// schedule.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := opLogger.Load()
	if traceID == "" {
		return l
	}
	args := []any{"trace_id", traceID}
	if spanID != "" {
		args = append(args, "span_id", spanID)
	}
	return l.With(args...)
}
