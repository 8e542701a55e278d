package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls the process logger. It maps to the config.LogConfig
// YAML block plus the --verbose flag.
type LogConfig struct {
	Verbose bool

	// Format is "json" or anything else for text.
	Format string

	// File, when non-empty, receives logs through a rotating writer instead
	// of the fallback writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger builds a slog logger for cfg. Logs go to fallback unless
// cfg.File is set. The returned closer releases the log file and is always
// non-nil.
func NewLogger(cfg LogConfig, fallback io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var (
		w      io.Writer = fallback
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}

// BridgeLogs returns a logger that writes to l's handler and also forwards
// every record l would emit to lp as an OTel log record.
func BridgeLogs(l *slog.Logger, lp otellog.LoggerProvider) *slog.Logger {
	otelH := otelslog.NewHandler(DefaultServiceName, otelslog.WithLoggerProvider(lp))
	return slog.New(&fanout{primary: l.Handler(), handlers: []slog.Handler{l.Handler(), otelH}})
}

// fanout sends records to several handlers. The primary handler alone
// decides the level, so --verbose governs exported logs too.
type fanout struct {
	primary  slog.Handler
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return f.primary.Enabled(ctx, level)
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	out := &fanout{handlers: make([]slog.Handler, len(f.handlers))}
	for i, h := range f.handlers {
		out.handlers[i] = fn(h)
	}
	out.primary = out.handlers[0]
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
