// Package obs owns the process logger and the per-request correlation fields
// (request id, trace id, user) that every log line carries.
package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Format selects the log encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configure the process logger.
type Options struct {
	Level  slog.Level
	Format Format
	Output io.Writer
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init installs the process logger and makes it the slog default. Calling it
// again replaces the previous logger.
func Init(opts Options) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(opts)
	slog.SetDefault(logger)
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// SetOutputForTests routes debug-level JSON logs to w until the returned
// func is called.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(Options{Level: slog.LevelDebug, Output: w})
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		logger = prev
		if logger == nil {
			logger = newLogger(Options{})
		}
		slog.SetDefault(logger)
	}
}

func newLogger(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				if t, ok := attr.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	}
	if opts.Format == FormatText {
		return slog.New(slog.NewTextHandler(out, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(out, handlerOpts))
}

func current() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = newLogger(Options{})
	}
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return current().With("pkg", pkg)
}

// From returns a logger carrying the correlation fields found in ctx.
func From(ctx context.Context) *slog.Logger {
	attrs := CorrelationFromContext(ctx).attrs()
	if len(attrs) == 0 {
		return current()
	}
	return current().With(attrs...)
}

type correlationKey struct{}

// Correlation identifies the request a log line belongs to.
type Correlation struct {
	RequestID string
	TraceID   string
	SpanID    string
	UserID    string
	Route     string
}

// WithCorrelation merges the non-empty fields of corr into ctx.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	merged := CorrelationFromContext(ctx)
	for dst, src := range map[*string]string{
		&merged.RequestID: corr.RequestID,
		&merged.TraceID:   corr.TraceID,
		&merged.SpanID:    corr.SpanID,
		&merged.UserID:    corr.UserID,
		&merged.Route:     corr.Route,
	} {
		if src != "" {
			*dst = src
		}
	}
	return context.WithValue(ctx, correlationKey{}, merged)
}

// WithUserID records the authenticated user on the request correlation and
// on the pending access log entry, if any.
func WithUserID(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if entry, ok := ctx.Value(accessKey{}).(*accessEntry); ok {
		entry.userID = userID
	}
	return WithCorrelation(ctx, Correlation{UserID: userID})
}

// CorrelationFromContext returns the correlation fields in ctx. When no
// trace id was propagated by the caller, the active OpenTelemetry span
// supplies one.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, _ := ctx.Value(correlationKey{}).(Correlation)
	if corr.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			corr.TraceID = sc.TraceID().String()
			corr.SpanID = sc.SpanID().String()
		}
	}
	return corr
}

func (c Correlation) attrs() []any {
	var attrs []any
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, key, value)
		}
	}
	add("request_id", c.RequestID)
	add("trace_id", c.TraceID)
	add("span_id", c.SpanID)
	add("user_id", c.UserID)
	add("route", c.Route)
	return attrs
}
