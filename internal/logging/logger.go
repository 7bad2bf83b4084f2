// Package logging provides level-based logging for the orchestrator
// process. All output goes to stderr so stdout stays free for any
// machine-readable output a caller might pipe.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger wraps a pair of stdlib loggers gated by a debug flag.
type Logger struct {
	debugEnabled bool
	infoLogger   *log.Logger
	debugLogger  *log.Logger
}

var globalLogger *Logger

// Initialize sets up the global logger. Call once at process start.
func Initialize(debugMode bool) {
	var output io.Writer = os.Stderr

	globalLogger = &Logger{
		debugEnabled: debugMode,
		infoLogger:   log.New(output, "", log.LstdFlags),
		debugLogger:  log.New(output, "", log.LstdFlags),
	}
}

// Info logs an informational message. Always shown.
func Info(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.infoLogger.Printf(format, args...)
	}
}

// Debug logs a debug message. Shown only when debug mode is enabled.
func Debug(format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.debugEnabled {
		globalLogger.debugLogger.Printf("DEBUG: "+format, args...)
	}
}

// Error logs an error message. Always shown.
func Error(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.infoLogger.Printf("ERROR: "+format, args...)
	}
}

// Warn logs a warning message. Always shown.
func Warn(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.infoLogger.Printf("WARN: "+format, args...)
	}
}

// IsDebugEnabled reports whether debug logging is active.
func IsDebugEnabled() bool {
	return globalLogger != nil && globalLogger.debugEnabled
}

func init() {
	// Ensure a usable logger exists even if Initialize is never called
	// (e.g. in tests that import this package transitively).
	if globalLogger == nil {
		Initialize(false)
	}
}
