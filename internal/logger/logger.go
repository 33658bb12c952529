// Package logger provides leveled, structured logging for pyvidia with
// text and JSON output formats, optional file output, and a live stream
// for subscribers.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ntpeters/pyvidia/internal/config"
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

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the main logger structure
type Logger struct {
	mu         sync.Mutex
	level      LogLevel
	formatJSON bool
	outputs    []io.Writer
	fileWriter io.WriteCloser
	logDir     string
	mode       string // query, serve
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// InitLogger initializes the global logger with the given configuration
func InitLogger(cfg *config.LogConfig, mode string) error {
	logger, err := NewLogger(cfg, mode)
	if err != nil {
		return err
	}
	defaultLogger = logger
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LogConfig, mode string) (*Logger, error) {
	l := &Logger{
		level:      parseLevel(cfg.Level),
		formatJSON: cfg.Format == "json",
		outputs:    []io.Writer{},
		logDir:     cfg.Directory,
		mode:       mode,
	}

	// Setup outputs
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		l.outputs = append(l.outputs, os.Stdout)
	case "stderr":
		l.outputs = append(l.outputs, os.Stderr)
	case "file":
		if err := l.setupFileWriter(); err != nil {
			return nil, err
		}
	case "both":
		l.outputs = append(l.outputs, os.Stdout)
		if err := l.setupFileWriter(); err != nil {
			return nil, err
		}
	default:
		l.outputs = append(l.outputs, os.Stdout)
	}

	return l, nil
}

func (l *Logger) setupFileWriter() error {
	// Ensure log directory exists
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// Log file name format: pyvidia-{mode}.log
	logFileName := fmt.Sprintf("pyvidia-%s.log", l.mode)
	logFile := filepath.Join(l.logDir, logFileName)

	// Open file in append mode
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.fileWriter = f
	l.outputs = append(l.outputs, f)

	return nil
}

// parseLevel converts string level to LogLevel
func parseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if defaultLogger == nil {
		once.Do(func() {
			defaultLogger, _ = NewLogger(&config.LogConfig{
				Level:  "info",
				Format: "text",
				Output: "stderr",
			}, "query")
		})
	}
	return defaultLogger
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	var logLine string

	if l.formatJSON {
		// JSON format
		fieldStr := ""
		if len(fields) > 0 {
			fieldPairs := make([]string, 0, len(fields))
			for _, f := range fields {
				fieldPairs = append(fieldPairs, fmt.Sprintf(`"%s":"%v"`, f.Key, f.Value))
			}
			fieldStr = "," + strings.Join(fieldPairs, ",")
		}
		logLine = fmt.Sprintf(`{"time":"%s","level":"%s","msg":"%s"%s}`+"\n", timestamp, level, msg, fieldStr)
	} else {
		// Text format
		fieldStr := ""
		if len(fields) > 0 {
			fieldPairs := make([]string, 0, len(fields))
			for _, f := range fields {
				fieldPairs = append(fieldPairs, fmt.Sprintf("%s=%v", f.Key, f.Value))
			}
			fieldStr = " " + strings.Join(fieldPairs, " ")
		}
		logLine = fmt.Sprintf("[%s] %s %s%s\n", timestamp, level, msg, fieldStr)
	}

	// Write to all outputs
	for _, w := range l.outputs {
		if _, err := w.Write([]byte(logLine)); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] failed to write log: %v\n", err)
			continue
		}
	}

	// Send to the log stream for real-time viewing
	if globalLogStream != nil {
		fieldsMap := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			fieldsMap[f.Key] = f.Value
		}
		globalLogStream.Add(StreamLogEntry{
			Timestamp: time.Now(),
			Level:     level.String(),
			Message:   msg,
			Fields:    fieldsMap,
		})
	}
}

// WithField creates a log entry with a single field
func (l *Logger) WithField(key string, value interface{}) *LogEntry {
	return &LogEntry{
		logger: l,
		fields: []Field{{Key: key, Value: value}},
	}
}

// WithFields creates a log entry with multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *LogEntry {
	fieldList := make([]Field, 0, len(fields))
	for k, v := range fields {
		fieldList = append(fieldList, Field{Key: k, Value: v})
	}
	return &LogEntry{
		logger: l,
		fields: fieldList,
	}
}

// WithError creates a log entry with an error field
func (l *Logger) WithError(err error) *LogEntry {
	return &LogEntry{
		logger: l,
		fields: []Field{{Key: "error", Value: err.Error()}},
	}
}

// LogEntry represents a log entry with fields
type LogEntry struct {
	logger *Logger
	fields []Field
}

// WithField adds a field to the log entry
func (e *LogEntry) WithField(key string, value interface{}) *LogEntry {
	e.fields = append(e.fields, Field{Key: key, Value: value})
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]interface{}) *LogEntry {
	for k, v := range fields {
		e.fields = append(e.fields, Field{Key: k, Value: v})
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	e.fields = append(e.fields, Field{Key: "error", Value: err.Error()})
	return e
}

// Debug logs at debug level
func (e *LogEntry) Debug(args ...interface{}) {
	e.logger.log(DEBUG, fmt.Sprint(args...), e.fields)
}

// Debugf logs a formatted message at debug level
func (e *LogEntry) Debugf(format string, args ...interface{}) {
	e.logger.log(DEBUG, fmt.Sprintf(format, args...), e.fields)
}

// Info logs at info level
func (e *LogEntry) Info(args ...interface{}) {
	e.logger.log(INFO, fmt.Sprint(args...), e.fields)
}

// Infof logs a formatted message at info level
func (e *LogEntry) Infof(format string, args ...interface{}) {
	e.logger.log(INFO, fmt.Sprintf(format, args...), e.fields)
}

// Warn logs at warning level
func (e *LogEntry) Warn(args ...interface{}) {
	e.logger.log(WARN, fmt.Sprint(args...), e.fields)
}

// Warnf logs a formatted message at warning level
func (e *LogEntry) Warnf(format string, args ...interface{}) {
	e.logger.log(WARN, fmt.Sprintf(format, args...), e.fields)
}

// Error logs at error level
func (e *LogEntry) Error(args ...interface{}) {
	e.logger.log(ERROR, fmt.Sprint(args...), e.fields)
}

// Errorf logs a formatted message at error level
func (e *LogEntry) Errorf(format string, args ...interface{}) {
	e.logger.log(ERROR, fmt.Sprintf(format, args...), e.fields)
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(args ...interface{}) {
	e.logger.log(FATAL, fmt.Sprint(args...), e.fields)
	os.Exit(1)
}

// Fatalf logs a formatted message at fatal level and exits
func (e *LogEntry) Fatalf(format string, args ...interface{}) {
	e.logger.log(FATAL, fmt.Sprintf(format, args...), e.fields)
	os.Exit(1)
}

// Global convenience functions

// WithField creates a logger entry with a single field
func WithField(key string, value interface{}) *LogEntry {
	return GetLogger().WithField(key, value)
}

// WithFields creates a logger entry with multiple fields
func WithFields(fields map[string]interface{}) *LogEntry {
	return GetLogger().WithFields(fields)
}

// WithError creates a logger entry with an error field
func WithError(err error) *LogEntry {
	return GetLogger().WithError(err)
}

// Debug logs a message at debug level
func Debug(args ...interface{}) {
	GetLogger().log(DEBUG, fmt.Sprint(args...), nil)
}

// Debugf logs a formatted message at debug level
func Debugf(format string, args ...interface{}) {
	GetLogger().log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Info logs a message at info level
func Info(args ...interface{}) {
	GetLogger().log(INFO, fmt.Sprint(args...), nil)
}

// Infof logs a formatted message at info level
func Infof(format string, args ...interface{}) {
	GetLogger().log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warn logs a message at warning level
func Warn(args ...interface{}) {
	GetLogger().log(WARN, fmt.Sprint(args...), nil)
}

// Warnf logs a formatted message at warning level
func Warnf(format string, args ...interface{}) {
	GetLogger().log(WARN, fmt.Sprintf(format, args...), nil)
}

// Error logs a message at error level
func Error(args ...interface{}) {
	GetLogger().log(ERROR, fmt.Sprint(args...), nil)
}

// Errorf logs a formatted message at error level
func Errorf(format string, args ...interface{}) {
	GetLogger().log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Fatal logs a message at fatal level and exits
func Fatal(args ...interface{}) {
	GetLogger().log(FATAL, fmt.Sprint(args...), nil)
	os.Exit(1)
}

// Fatalf logs a formatted message at fatal level and exits
func Fatalf(format string, args ...interface{}) {
	GetLogger().log(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Close closes the logger and releases resources
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileWriter != nil {
		return l.fileWriter.Close()
	}
	return nil
}

// Info logs a message at info level
func (l *Logger) Info(args ...interface{}) {
	l.log(INFO, fmt.Sprint(args...), nil)
}

// Infof logs a formatted message at info level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warn logs a message at warning level
func (l *Logger) Warn(args ...interface{}) {
	l.log(WARN, fmt.Sprint(args...), nil)
}

// Warnf logs a formatted message at warning level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Error logs a message at error level
func (l *Logger) Error(args ...interface{}) {
	l.log(ERROR, fmt.Sprint(args...), nil)
}

// Errorf logs a formatted message at error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Debug logs a message at debug level
func (l *Logger) Debug(args ...interface{}) {
	l.log(DEBUG, fmt.Sprint(args...), nil)
}

// Debugf logs a formatted message at debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}
