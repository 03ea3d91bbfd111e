// Package logger provides component-scoped structured logging.
//
// Every log line carries a component tag ("bus", "agent", "notify", ...)
// so the combined output of a single process stays greppable. The C
// variants take just a message, the CF variants add structured fields.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger = zap.NewNop()
)

// Init configures the process logger. Valid levels: debug, info, warn,
// error. Invalid or empty levels fall back to info.
func Init(logLevel string) error {
	logLevel = strings.ToLower(strings.TrimSpace(logLevel))
	if logLevel == "" {
		logLevel = "info"
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Readable console output when debugging
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	log = built
	mu.Unlock()
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = log.Sync()
}

func fieldsOf(component string, fields map[string]interface{}) []zap.Field {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("component", component))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) {
	current().Debug(msg, zap.String("component", component))
}

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug(msg, fieldsOf(component, fields)...)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) {
	current().Info(msg, zap.String("component", component))
}

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info(msg, fieldsOf(component, fields)...)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) {
	current().Warn(msg, zap.String("component", component))
}

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn(msg, fieldsOf(component, fields)...)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) {
	current().Error(msg, zap.String("component", component))
}

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error(msg, fieldsOf(component, fields)...)
}
