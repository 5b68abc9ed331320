package logging

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/niels/staticserve/pkg/config"
	"github.com/rs/zerolog"
)

var (
	// Global logger instance
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// InitGlobalLogger initializes the global logger from the logging config.
// Logs always reach stderr unless file logging is enabled, in which case
// stderr only receives them in debug mode.
func InitGlobalLogger(debug bool, cfg *config.Config) {
	globalLogger = NewLogger(debug, Output(debug, cfg, os.Stderr))
}

// Output builds the writer described by cfg, falling back to stderr.
func Output(debug bool, cfg *config.Config, stderr io.Writer) io.Writer {
	if stderr == nil {
		stderr = os.Stderr
	}
	if cfg == nil {
		return stderr
	}

	console := stderr
	if cfg.Logging.Format == "console" {
		console = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	}

	if !cfg.Logging.LogToFile {
		return console
	}

	// Configure rotating file logger
	fileLogger := &lumberjack.Logger{
		Filename:   cfg.Logging.LogFilePath,
		MaxSize:    cfg.Logging.MaxSize, // megabytes
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge, // days
		Compress:   cfg.Logging.CompressEnabled(),
	}

	if debug {
		return io.MultiWriter(fileLogger, console)
	}

	// Announce the file once on stderr so operators know where to look
	tempLogger := NewLogger(false, console)
	tempLogger.Info().Str("path", cfg.Logging.LogFilePath).Msg("Logging to file")
	return fileLogger
}

// NewLogger creates a new zerolog logger with the specified debug level
func NewLogger(debug bool, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stderr
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Info logs a message at info level
func Info(msg string) {
	globalLogger.Info().Msg(msg)
}

// DebugWith logs a message at debug level with additional context
func DebugWith(msg string, fields map[string]interface{}) {
	event := globalLogger.Debug()
	for k, v := range fields {
		event = addField(event, k, v)
	}
	event.Msg(msg)
}

// InfoWith logs a message at info level with additional context
func InfoWith(msg string, fields map[string]interface{}) {
	event := globalLogger.Info()
	for k, v := range fields {
		event = addField(event, k, v)
	}
	event.Msg(msg)
}

// ErrorWith logs a message at error level with additional context
func ErrorWith(msg string, fields map[string]interface{}) {
	event := globalLogger.Error()
	for k, v := range fields {
		event = addField(event, k, v)
	}
	event.Msg(msg)
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return globalLogger
}

// WithComponent derives a logger tagged with the component that logs through it
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// addField adds a field to the log event based on its type
func addField(event *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return event.Str(key, v)
	case int:
		return event.Int(key, v)
	case int64:
		return event.Int64(key, v)
	case float64:
		return event.Float64(key, v)
	case bool:
		return event.Bool(key, v)
	case time.Duration:
		return event.Dur(key, v)
	case time.Time:
		return event.Time(key, v)
	case []string:
		return event.Strs(key, v)
	case error:
		return event.AnErr(key, v)
	default:
		return event.Interface(key, v)
	}
}
