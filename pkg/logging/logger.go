// Package logging provides structured, component-scoped logging backed by slog
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the severity of a log message
type LogLevel int

// LogLevel constants represent the various log levels
const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

const (
	logLevelTrace = "TRACE"
	logLevelDebug = "DEBUG"
	logLevelInfo  = "INFO"
	logLevelWarn  = "WARN"
	logLevelError = "ERROR"
)

// Environment variables controlling log output
const (
	EnvLogLevel  = "BATCHANALYSIS_LOG_LEVEL"
	EnvLogFormat = "BATCHANALYSIS_LOG_FORMAT"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

// CorrelationIDKey is the context key for correlation IDs
const CorrelationIDKey contextKey = "correlationID"

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return logLevelTrace
	case DEBUG:
		return logLevelDebug
	case INFO:
		return logLevelInfo
	case WARN:
		return logLevelWarn
	case ERROR:
		return logLevelError
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a LogLevel, defaulting to INFO
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case logLevelTrace:
		return TRACE
	case logLevelDebug:
		return DEBUG
	case logLevelWarn:
		return WARN
	case logLevelError:
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case TRACE, DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging for one component
type Logger struct {
	component string
	level     LogLevel
	logger    *slog.Logger
}

// NewLogger creates a logger for a component, configured from the environment
func NewLogger(component string) *Logger {
	level := ParseLevel(os.Getenv(EnvLogLevel))
	return NewLoggerWithWriter(component, os.Stdout, level, os.Getenv(EnvLogFormat))
}

// NewLoggerWithWriter creates a logger writing to w. format is "json" or text.
func NewLoggerWithWriter(component string, w io.Writer, level LogLevel, format string) *Logger {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		component: component,
		level:     level,
		logger:    slog.New(handler).With("component", component),
	}
}

// Component returns the component name this logger was created for
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	switch level {
	case TRACE, DEBUG:
		l.logger.Debug(msg)
	case INFO:
		l.logger.Info(msg)
	case WARN:
		l.logger.Warn(msg)
	case ERROR:
		l.logger.Error(msg)
	}
}

// Trace logs a trace-level message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.logf(TRACE, format, args...)
}

// Debug logs a debug-level message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(DEBUG, format, args...)
}

// Info logs an info-level message
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(INFO, format, args...)
}

// Warn logs a warning-level message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(WARN, format, args...)
}

// Error logs an error-level message
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(ERROR, format, args...)
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= DEBUG
}

// WithContext returns a logger carrying the correlation ID stored in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if corrID, ok := ctx.Value(CorrelationIDKey).(string); ok && corrID != "" {
		return l.WithCorrelation(corrID)
	}
	return l
}

// WithCorrelation returns a logger with a correlation ID attached
func (l *Logger) WithCorrelation(correlationID string) *Logger {
	return &Logger{
		component: l.component,
		level:     l.level,
		logger:    l.logger.With("correlation_id", correlationID),
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		component: l.component,
		level:     l.level,
		logger:    l.logger.With(args...),
	}
}

// ContextWithCorrelation stores a correlation ID in ctx
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// Operation logs an operation with structured data at debug level
func (l *Logger) Operation(ctx context.Context, operation string, details map[string]interface{}) {
	if !l.IsDebugEnabled() {
		return
	}

	args := []interface{}{"operation", operation}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.logger.DebugContext(ctx, "Operation", args...)
}

// Success logs a successful operation
func (l *Logger) Success(ctx context.Context, operation string, details ...interface{}) {
	args := []interface{}{"operation", operation, "status", "success"}
	if len(details) > 0 {
		args = append(args, "details", details[0])
	}
	l.logger.InfoContext(ctx, "Operation completed successfully", args...)
}

// Failure logs a failed operation
func (l *Logger) Failure(ctx context.Context, operation string, err error) {
	l.logger.ErrorContext(ctx, "Operation failed",
		"operation", operation,
		"status", "failed",
		"error", err)
}

// StageStart logs the start of a provisioning stage
func (l *Logger) StageStart(stage string, current, total int) {
	l.logger.Info("Starting stage",
		"stage", stage,
		"current", current,
		"total", total)
}

// StageSuccess logs a completed provisioning stage
func (l *Logger) StageSuccess(stage string) {
	l.logger.Info("Stage completed",
		"stage", stage,
		"status", "success")
}

// StageFailed logs a failed provisioning stage
func (l *Logger) StageFailed(stage string, err error) {
	l.logger.Error("Stage failed",
		"stage", stage,
		"status", "failed",
		"error", err)
}

// DeploymentSummary logs the outcome of a whole provisioning run
func (l *Logger) DeploymentSummary(successful, total int) {
	if successful == total {
		l.logger.Info("Deployment completed successfully",
			"successful", successful,
			"total", total,
			"status", "completed")
		return
	}
	l.logger.Warn("Deployment completed with errors",
		"successful", successful,
		"total", total,
		"status", "completed_with_errors")
}
