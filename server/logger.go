package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// LogContext provides context for log messages
type LogContext struct {
	JobID     string
	RequestID string
	Model     string
	Operation string
}

// Logger provides leveled logging with proper output streams. Normal levels
// go to stdout, errors to stderr; LOG_FORMAT=json switches to JSON lines.
type Logger struct {
	debug *log.Logger
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
	fatal *log.Logger
	json  bool
}

// JSONLogEntry represents a structured log entry
type JSONLogEntry struct {
	Timestamp string      `json:"timestamp"`
	Level     string      `json:"level"`
	Message   string      `json:"message"`
	Context   *LogContext `json:"context,omitempty"`
}

// Global logger instance
var AppLogger *Logger

// NewLogger creates a new leveled logger
func NewLogger() *Logger {
	stdout := os.Stdout
	stderr := os.Stderr

	return &Logger{
		debug: log.New(stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
		info:  log.New(stdout, "[INFO]  ", log.LstdFlags|log.Lshortfile),
		warn:  log.New(stdout, "[WARN]  ", log.LstdFlags|log.Lshortfile),
		error: log.New(stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		fatal: log.New(stderr, "[FATAL] ", log.LstdFlags|log.Lshortfile),
		json:  os.Getenv("LOG_FORMAT") == "json",
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.json {
		l.logJSON(DEBUG, format, nil, v...)
	} else {
		l.debug.Printf(format, v...)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.json {
		l.logJSON(INFO, format, nil, v...)
	} else {
		l.info.Printf(format, v...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.json {
		l.logJSON(WARN, format, nil, v...)
	} else {
		l.warn.Printf(format, v...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.json {
		l.logJSON(ERROR, format, nil, v...)
	} else {
		l.error.Printf(format, v...)
	}
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	if l.json {
		l.logJSON(FATAL, format, nil, v...)
	} else {
		l.fatal.Printf(format, v...)
	}
	os.Exit(1)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.logWithContext(l.debug, DEBUG, ctx, format, v...)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.logWithContext(l.info, INFO, ctx, format, v...)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.logWithContext(l.warn, WARN, ctx, format, v...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.logWithContext(l.error, ERROR, ctx, format, v...)
}

func (l *Logger) logWithContext(out *log.Logger, level LogLevel, ctx *LogContext, format string, v ...interface{}) {
	if l.json {
		l.logJSON(level, format, ctx, v...)
	} else {
		out.Printf(formatContext(ctx)+format, v...)
	}
}

// logJSON logs a structured JSON line
func (l *Logger) logJSON(level LogLevel, format string, ctx *LogContext, v ...interface{}) {
	message := format
	if len(v) > 0 {
		message = fmt.Sprintf(format, v...)
	}

	entry := JSONLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Context:   ctx,
	}

	var output io.Writer
	if level >= ERROR {
		output = os.Stderr
	} else {
		output = os.Stdout
	}

	encoder := json.NewEncoder(output)
	encoder.SetEscapeHTML(false)
	encoder.Encode(entry)
}

// formatContext formats context for human-readable logs
func formatContext(ctx *LogContext) string {
	if ctx == nil {
		return ""
	}

	prefix := ""
	if ctx.JobID != "" {
		prefix += fmt.Sprintf("[Job:%s] ", ctx.JobID)
	}
	if ctx.RequestID != "" {
		prefix += fmt.Sprintf("[Req:%s] ", ctx.RequestID)
	}
	if ctx.Model != "" {
		prefix += fmt.Sprintf("[Model:%s] ", ctx.Model)
	}
	if ctx.Operation != "" {
		prefix += fmt.Sprintf("[Op:%s] ", ctx.Operation)
	}
	return prefix
}
