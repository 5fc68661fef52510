package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"habitat/pkg/logging"
)

// Logger is the structured logger every component takes. The Ctx variants
// prepend the trace, request and message ids carried by ctx.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{})

	// Named returns a child logger tagged with the component it is handed to.
	Named(component string) Logger
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type SugaredLogger struct {
	sugar   *zap.SugaredLogger
	service string
}

// New builds a production zap logger. Format is "json" or "console"; an
// unknown level is an error rather than a silent fallback.
func New(level, format, service string) (Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	switch format {
	case "", "json":
		cfg.Encoding = "json"
	case "console":
		cfg.Encoding = "console"
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.EncoderConfig = encoderConfig()

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return FromZap(z, service), nil
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.MessageKey = "message"
	enc.TimeKey = "timestamp"
	enc.NameKey = "component"
	return enc
}

// FromZap wraps an existing zap logger, e.g. one built over an observer
// core in tests.
func FromZap(z *zap.Logger, service string) *SugaredLogger {
	return &SugaredLogger{sugar: z.Sugar(), service: service}
}

func NopLogger() Logger {
	return FromZap(zap.NewNop(), "")
}

func (l *SugaredLogger) Named(component string) Logger {
	return &SugaredLogger{sugar: l.sugar.Named(component), service: l.service}
}

func (l *SugaredLogger) With(keysAndValues ...interface{}) Logger {
	return &SugaredLogger{sugar: l.sugar.With(keysAndValues...), service: l.service}
}

func (l *SugaredLogger) Sync() error { return l.sugar.Sync() }

func (l *SugaredLogger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, l.fields(nil, kv)...) }
func (l *SugaredLogger) Infow(msg string, kv ...interface{}) { l.sugar.Infow(msg, l.fields(nil, kv)...) }
func (l *SugaredLogger) Warnw(msg string, kv ...interface{}) { l.sugar.Warnw(msg, l.fields(nil, kv)...) }
func (l *SugaredLogger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, l.fields(nil, kv)...) }

func (l *SugaredLogger) DebugwCtx(ctx context.Context, msg string, kv ...interface{}) {
	l.sugar.Debugw(msg, l.fields(ctx, kv)...)
}

func (l *SugaredLogger) InfowCtx(ctx context.Context, msg string, kv ...interface{}) {
	l.sugar.Infow(msg, l.fields(ctx, kv)...)
}

func (l *SugaredLogger) WarnwCtx(ctx context.Context, msg string, kv ...interface{}) {
	l.sugar.Warnw(msg, l.fields(ctx, kv)...)
}

func (l *SugaredLogger) ErrorwCtx(ctx context.Context, msg string, kv ...interface{}) {
	l.sugar.Errorw(msg, l.fields(ctx, kv)...)
}

// fields puts context fields first and adds the service name unless ctx
// already names one.
func (l *SugaredLogger) fields(ctx context.Context, kv []interface{}) []interface{} {
	var out []interface{}
	if ctx != nil {
		out = logging.GetLogFields(ctx)
	}
	if l.service != "" && (ctx == nil || logging.GetServiceName(ctx) == "") {
		out = append(out, "service_name", l.service)
	}
	if len(out) == 0 {
		return kv
	}
	return append(out, kv...)
}
