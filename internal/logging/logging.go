package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu       sync.RWMutex
	disabled = false
	logger   = newLogger("info", false)
	exit     = os.Exit
)

func newLogger(level string, json bool) *zap.SugaredLogger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if json {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(lvl))
	return zap.New(core).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if disabled {
		return nil
	}
	return logger
}

// Init replaces the process logger. level is one of debug, info, warn, error.
func Init(level string, json bool) {
	l := newLogger(level, json)
	mu.Lock()
	old := logger
	logger = l
	mu.Unlock()
	_ = old.Sync()
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

// Disable turns off all logging
func Disable() {
	mu.Lock()
	disabled = true
	mu.Unlock()
}

// Enable turns logging back on
func Enable() {
	mu.Lock()
	disabled = false
	mu.Unlock()
}

// Info logs an info message
func Info(v ...any) {
	if l := current(); l != nil {
		l.Info(v...)
	}
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if l := current(); l != nil {
		l.Infof(format, v...)
	}
}

// Error logs an error message
func Error(v ...any) {
	if l := current(); l != nil {
		l.Error(v...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if l := current(); l != nil {
		l.Errorf(format, v...)
	}
}

// Warn logs a warning message
func Warn(v ...any) {
	if l := current(); l != nil {
		l.Warn(v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if l := current(); l != nil {
		l.Warnf(format, v...)
	}
}

// Debug logs a debug message
func Debug(v ...any) {
	if l := current(); l != nil {
		l.Debug(v...)
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	if l := current(); l != nil {
		l.Debugf(format, v...)
	}
}

// Fatalf logs a formatted message and terminates the process.
// Reserved for faults the daemon cannot continue past (message log storage).
func Fatalf(format string, v ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Errorf(format, v...)
	_ = l.Sync()
	exit(1)
}

// Logger is a simple logger that can be embedded in structs
type Logger struct {
	prefix string
}

// WithContext creates a new Logger (context is ignored, for API compatibility)
func WithContext(ctx context.Context) Logger {
	return Logger{}
}

// Named returns a Logger that prefixes every message with [name].
func Named(name string) Logger {
	return Logger{prefix: "[" + name + "] "}
}

// Info logs an info message
func (l Logger) Info(v ...any) {
	Info(append([]any{l.prefix}, v...)...)
}

// Infof logs a formatted info message
func (l Logger) Infof(format string, v ...any) {
	Infof(l.prefix+format, v...)
}

// Warnf logs a formatted warning message
func (l Logger) Warnf(format string, v ...any) {
	Warnf(l.prefix+format, v...)
}

// Error logs an error message
func (l Logger) Error(v ...any) {
	Error(append([]any{l.prefix}, v...)...)
}

// Errorf logs a formatted error message
func (l Logger) Errorf(format string, v ...any) {
	Errorf(l.prefix+format, v...)
}

// Debugf logs a formatted debug message
func (l Logger) Debugf(format string, v ...any) {
	Debugf(l.prefix+format, v...)
}
