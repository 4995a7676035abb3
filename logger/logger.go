// Package logger provides the process-wide structured logger
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop().Sugar()
)

// Init configures the global logger to write to stderr at the given level.
// Unknown levels fall back to info.
func Init(level string) {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		parseLevel(level),
	)

	SetLogger(zap.New(core))
}

// SetLogger replaces the global logger. Mostly used by tests.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}

	mu.Lock()
	log = l.Sugar()
	mu.Unlock()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug(msg string, keysAndValues ...any) {
	current().Debugw(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	current().Infow(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	current().Warnw(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	current().Errorw(msg, keysAndValues...)
}

// With returns a child logger carrying the given key/value pairs
func With(keysAndValues ...any) *zap.SugaredLogger {
	return current().With(keysAndValues...)
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() {
	_ = current().Sync()
}
