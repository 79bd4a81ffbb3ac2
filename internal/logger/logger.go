package logger

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats accepted by Configure.
const (
	// FormatConsole is human-readable output for terminals.
	FormatConsole = "console"
	// FormatJSON is one JSON object per line for log collectors.
	FormatJSON = "json"
)

// ErrUnknownFormat is returned by Configure for unsupported formats.
var ErrUnknownFormat = errors.New("unknown log format")

var (
	// global is the process-wide logger returned for contexts without one.
	//nolint:gochecknoglobals // Every package logs through it.
	global atomic.Pointer[zap.SugaredLogger]
	// level is shared by every logger built with New.
	//nolint:gochecknoglobals // Changed at runtime by SetLevel.
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() { //nolint:gochecknoinits // Logging must work before configuration is read.
	global.Store(New(FormatConsole))
}

// New builds a logger writing to stderr in format, filtered by the shared level.
// Unknown formats fall back to console output.
func New(format string, options ...zap.Option) *zap.SugaredLogger {
	//nolint:exhaustruct // Remaining encoder settings keep zap defaults.
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	if format == FormatJSON {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.ConsoleSeparator = ", "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)

	return zap.New(core, options...).Sugar()
}

// Configure replaces the global logger with one using format.
// An empty format means console output.
func Configure(format string) error {
	switch format {
	case "", FormatConsole:
		global.Store(New(FormatConsole))
	case FormatJSON:
		global.Store(New(FormatJSON))
	default:
		return ErrUnknownFormat
	}

	return nil
}

// ParseLogLevel converts a level name to a zap level. "warning" is accepted as "warn".
func ParseLogLevel(s string) (zapcore.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}

	lvl, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel, false
	}

	return lvl, true
}

// Level returns the shared level.
func Level() zapcore.Level {
	return level.Level()
}

// Logger returns the global logger.
func Logger() *zap.SugaredLogger {
	return global.Load()
}

// SetLevel changes the shared level of every logger built with New.
func SetLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}

// Info logs at info level through the logger carried by ctx.
func Info(ctx context.Context, args ...any) {
	FromContext(ctx).Info(args...)
}

// DebugKV logs message with key-value pairs at debug level.
func DebugKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Debugw(message, kvs...)
}

// InfoKV logs message with key-value pairs at info level.
func InfoKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Infow(message, kvs...)
}

// WarnKV logs message with key-value pairs at warn level.
func WarnKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Warnw(message, kvs...)
}

// ErrorKV logs message with key-value pairs at error level.
func ErrorKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Errorw(message, kvs...)
}
