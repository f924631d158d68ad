// Package logger provides slog-based structured logging.
//
// Core pieces:
//   - Init() configures the default logger (JSON in production, text
//     in development)
//   - FromContext() / WithContext() carry a logger through a context
//   - package-level convenience methods (Info/Error/Warn/Debug/Fatal)
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newLogger(false))
}

func getLogger() *slog.Logger { return loggerPtr.Load() }
func storeLogger(l *slog.Logger) { loggerPtr.Store(l) }

// exitFunc is swapped out in tests so Fatal can be exercised without
// killing the test binary.
var exitFunc = os.Exit

func newLogger(development bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: development,
	}
	var handler slog.Handler
	if development {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Init configures the default logger. env "development"/"dev" selects
// the text handler; anything else (including "") selects JSON.
func Init(env string) {
	dev := env == "development" || env == "dev"
	l := newLogger(dev)
	storeLogger(l)
	slog.SetDefault(l)
}

// SetForTest swaps the package-level logger and returns nothing; tests
// call it to redirect output into a buffer and restore the previous
// logger with the value returned by Get() beforehand.
func SetForTest(l *slog.Logger) {
	storeLogger(l)
}

// ========================================
// File-backed logging
// ========================================

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

// InitWithFile configures the default logger to also write JSON lines
// into <dir>/aegis.log, closing any previously opened log file first so
// repeated calls (e.g. across test runs) never leak file descriptors.
func InitWithFile(dir string) error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	f, err := os.OpenFile(dir+"/aegis.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f

	base := unwrapBaseHandler(getLogger().Handler())
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	storeLogger(slog.New(NewMultiHandler(base, fileHandler)))
	return nil
}

// ShutdownFileHandler closes the file opened by InitWithFile, if any.
// Safe to call even when InitWithFile was never called.
func ShutdownFileHandler() {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// unwrapBaseHandler strips a MultiHandler wrapper down to its first
// (non-DB, non-file) handler, so repeated AttachDBHandler/InitWithFile
// calls never nest MultiHandlers inside MultiHandlers.
func unwrapBaseHandler(h slog.Handler) slog.Handler {
	if mh, ok := h.(*MultiHandler); ok && len(mh.handlers) > 0 {
		return mh.handlers[0]
	}
	return h
}

// ========================================
// Context-carried logger
// ========================================

type ctxKey struct{}

// WithContext attaches a logger to ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return getLogger()
}

// ========================================
// Package-level convenience methods
// ========================================

func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

func Infof(format string, args ...any)  { getLogger().Info(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { getLogger().Error(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { getLogger().Warn(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { getLogger().Debug(fmt.Sprintf(format, args...)) }

// Fatal logs msg at error level and exits the process.
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	exitFunc(1)
}

// Infow/Warnw/Errorw/Debugw are aliases kept for call sites that prefer
// the "w" (with-fields) naming convention.
func Infow(msg string, keysAndValues ...any)  { getLogger().Info(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...any)  { getLogger().Warn(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...any) { getLogger().Error(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...any) { getLogger().Debug(msg, keysAndValues...) }

// With returns a logger with the given fields attached to every record.
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get returns the underlying slog.Logger.
func Get() *slog.Logger { return getLogger() }

// Attr aliases slog.Attr so call sites don't need to import log/slog.
type Attr = slog.Attr

// Any creates an attribute of any value type.
func Any(key string, value any) Attr { return slog.Any(key, value) }

// Field name constants — always use these instead of hardcoding a key,
// so the same concept never ends up logged under two different names.
const (
	FieldTraceID   = "trace_id"
	FieldComponent = "component"
	FieldModule    = "module"
	FieldError     = "error"
	FieldStatus    = "status"
	FieldLatencyMS = "latency_ms"
	FieldCount     = "count"
	FieldDurationMS = "duration_ms"

	// Incident-response domain fields.
	FieldIncidentID     = "incident_id"
	FieldEventID        = "event_id"
	FieldSequenceNumber = "sequence_number"
	FieldCorrelationID  = "correlation_id"
	FieldAgentID        = "agent_id"
	FieldAgentType      = "agent_type"
	FieldReplicaID      = "replica_id"
	FieldRegion         = "region"
	FieldViewNumber     = "view_number"
	FieldRoundSequence  = "round_sequence"
	FieldRoundPhase     = "round_phase"
	FieldNodeID         = "node_id"
	FieldActionID       = "action_id"
	FieldCertificateID  = "certificate_id"
)
