package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKey is the private key type for the logger stored in a context.
type contextKey struct{}

// ToContext returns a copy of ctx carrying l.
func ToContext(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx, or the global logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*zap.SugaredLogger); ok {
			return l
		}
	}

	return Logger()
}

// WithName appends name to the logger name carried by ctx.
func WithName(ctx context.Context, name string) context.Context {
	return ToContext(ctx, FromContext(ctx).Named(name))
}

// WithKV attaches key-value pairs to every message logged through ctx.
func WithKV(ctx context.Context, kvs ...any) context.Context {
	return ToContext(ctx, FromContext(ctx).With(kvs...))
}

// WithLevelOverride makes the logger carried by ctx use level instead of the
// global level. Used for per-component levels from configuration.
func WithLevelOverride(ctx context.Context, level zapcore.Level) context.Context {
	l := FromContext(ctx).Desugar().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &overrideCore{Core: core, level: level}
	})).Sugar()

	return ToContext(ctx, l)
}

// overrideCore filters entries by its own level instead of the wrapped core's.
type overrideCore struct {
	zapcore.Core

	level zapcore.Level
}

func (c *overrideCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *overrideCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}

	return ce.AddCore(ent, c)
}

//nolint:ireturn // zapcore.Core is the interface zap expects.
func (c *overrideCore) With(fields []zapcore.Field) zapcore.Core {
	return &overrideCore{Core: c.Core.With(fields), level: c.level}
}
