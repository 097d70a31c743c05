package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger is the logging face of the module. Pass a custom implementation
// through Options to route records into an application's own sink; the
// default one wraps slog.
type Logger interface {
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)

	// With returns a logger that adds args to every record it emits.
	With(args ...any) Logger
}

type defaultLogger struct {
	slog *slog.Logger
}

// NewDefaultLogger logs text records to stderr at the given level, tagged
// logger=tablecat.
func NewDefaultLogger(level slog.Level) Logger {
	return NewTextLogger(os.Stderr, level)
}

// NewTextLogger is NewDefaultLogger with the sink made explicit, handy in
// tests.
func NewTextLogger(w io.Writer, level slog.Level) Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &defaultLogger{slog: slog.New(h).With("logger", "tablecat")}
}

func (d *defaultLogger) With(args ...any) Logger {
	return &defaultLogger{slog: d.slog.With(args...)}
}

type argsKey struct{}

func ctxArgs(ctx context.Context) []any {
	if args, ok := ctx.Value(argsKey{}).([]any); ok {
		return args
	}
	return nil
}

// WithDefaultArgs attaches log args to the context; every ...Ctx call on a
// default logger appends them to its own args.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	merged := append(append([]any{}, ctxArgs(ctx)...), args...)
	return context.WithValue(ctx, argsKey{}, merged)
}

func (d *defaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.slog.Debug(msg, append(args, ctxArgs(ctx)...)...)
}

func (d *defaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.slog.Info(msg, append(args, ctxArgs(ctx)...)...)
}

func (d *defaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.slog.Warn(msg, append(args, ctxArgs(ctx)...)...)
}

func (d *defaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.slog.Error(msg, append(args, ctxArgs(ctx)...)...)
}
