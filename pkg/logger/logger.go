package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const LoggerKey contextKey = "logger"

type Logger struct {
	*zerolog.Logger
}

// New creates a new logger instance with component context
func New(component string) *Logger {
	hostname, _ := os.Hostname()

	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "@timestamp" // ELK compatible

	// Create logger with JSON output for production
	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Str("hostname", hostname).
		Str("environment", getEnv("ENVIRONMENT", "development")).
		Logger()

	return &Logger{&logger}
}

// WithContext returns a logger from context or creates a new one
func WithContext(ctx context.Context, component string) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return New(component)
}

// ToContext adds logger to context
func (l *Logger) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

// WithFireInstance adds the fire-instance correlation ID for tracing a single firing
func (l *Logger) WithFireInstance(fireInstanceID string) *Logger {
	logger := l.Logger.With().Str("fire_instance_id", fireInstanceID).Logger()
	return &Logger{&logger}
}

// WithTrigger adds trigger context
func (l *Logger) WithTrigger(fullName string) *Logger {
	logger := l.Logger.With().
		Str("trigger", fullName).
		Logger()
	return &Logger{&logger}
}

// WithJob adds job context
func (l *Logger) WithJob(fullName string) *Logger {
	logger := l.Logger.With().
		Str("job", fullName).
		Logger()
	return &Logger{&logger}
}

// WithError adds error context
func (l *Logger) WithError(err error) *Logger {
	logger := l.Logger.With().Err(err).Logger()
	return &Logger{&logger}
}

// LogFireStart logs the start of a single trigger firing
func (l *Logger) LogFireStart(triggerName, jobName string) {
	l.Info().
		Str("action", "fire_start").
		Str("trigger", triggerName).
		Str("job", jobName).
		Msg("Starting job execution")
}

// LogFireComplete logs completion of a single trigger firing with metrics
func (l *Logger) LogFireComplete(triggerName, jobName string, duration time.Duration, instruction string, jobErrored bool) {
	l.Info().
		Str("action", "fire_complete").
		Str("trigger", triggerName).
		Str("job", jobName).
		Dur("duration", duration).
		Str("instruction", instruction).
		Bool("has_errors", jobErrored).
		Msg("Job execution completed")
}

// LogStoreOperation logs job store operations
func (l *Logger) LogStoreOperation(operation string, key string, duration time.Duration, err error) {
	event := l.Info()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "store_operation").
		Str("operation", operation).
		Str("key", key).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg("Job store operation")
}

// Fatalf logs a fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal().Msgf(format, args...)
}

// SetupLogger configures the global logging behavior from the environment
func SetupLogger() {
	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Pretty logging for development
	if getEnv("ENVIRONMENT", "development") == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		logger := zerolog.New(output).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &logger
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
