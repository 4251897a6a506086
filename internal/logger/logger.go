package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

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
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.NoLevel
	}
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

type Logger struct {
	mu    sync.RWMutex
	level LogLevel
	zl    zerolog.Logger
}

func setupZerolog() {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "message"
	zerolog.LevelFieldName = "level"
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		return strings.ToUpper(l.String())
	}
}

var defaultLogger = New(os.Stderr, INFO)

func New(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		level: level,
		zl:    zerolog.New(w).With().Timestamp().Logger(),
	}
}

func SetLevel(level LogLevel) {
	defaultLogger.SetLevel(level)
}

// SetOutput redirects the default logger, keeping its level.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.zl = zerolog.New(w).With().Timestamp().Logger()
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	event := l.zl.WithLevel(level.zerolog())
	if sanitized := sanitizeFields(fields); len(sanitized) > 0 {
		event = event.Dict("fields", zerolog.Dict().Fields(sanitized))
	}
	event.Msg(message)
}

func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, mergeFields(fields...))
}

func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, mergeFields(fields...))
}

func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, mergeFields(fields...))
}

func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, mergeFields(fields...))
}

// Package-level convenience functions
func Debug(message string, fields ...map[string]interface{}) {
	defaultLogger.Debug(message, fields...)
}

func Info(message string, fields ...map[string]interface{}) {
	defaultLogger.Info(message, fields...)
}

func Warn(message string, fields ...map[string]interface{}) {
	defaultLogger.Warn(message, fields...)
}

func Error(message string, fields ...map[string]interface{}) {
	defaultLogger.Error(message, fields...)
}

func mergeFields(fieldMaps ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, fields := range fieldMaps {
		for k, v := range fields {
			result[k] = v
		}
	}
	return result
}

var sensitiveKeys = []string{
	"token", "secret", "password", "api_key", "apikey",
	"signature", "authorization", "auth", "cookie",
}

func sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		keyLower := strings.ToLower(k)

		isSensitive := false
		for _, sensitive := range sensitiveKeys {
			if strings.Contains(keyLower, sensitive) {
				isSensitive = true
				break
			}
		}

		if !isSensitive {
			sanitized[k] = v
			continue
		}

		// Show first 3 and last 3 characters of long values
		if str, ok := v.(string); ok && len(str) > 8 {
			sanitized[k] = str[:3] + "..." + str[len(str)-3:]
		} else {
			sanitized[k] = "[REDACTED]"
		}
	}

	return sanitized
}

// Configure sets the default level from LOG_LEVEL. Under go test only WARN and
// ERROR are emitted.
func Configure(logLevel string) {
	if os.Getenv("GO_ENV") == "test" || strings.HasSuffix(os.Args[0], ".test") {
		SetLevel(WARN)
		return
	}
	SetLevel(ParseLevel(logLevel))
}

func init() {
	setupZerolog()
	Configure(os.Getenv("LOG_LEVEL"))
}
