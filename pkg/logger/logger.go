package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures the structured logger. Level is a level name and
// defaults to info when empty or unknown. Format falls back to the
// CERTLEDGER_LOG_FORMAT variable so the bootstrap logger honours it before
// config is parsed.
type Options struct {
	ServiceName string
	Env         string
	Level       string
	WarnStack   bool
	Format      string
	Output      io.Writer
}

// Logger writes zerolog entries enriched with the fields stored in a
// context by the With* helpers.
type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

func New(opts Options) *Logger {
	level := ParseLevel(opts.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if strings.TrimSpace(format) == "" {
		format = os.Getenv("CERTLEDGER_LOG_FORMAT")
	}
	if strings.EqualFold(strings.TrimSpace(format), FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zctx := zerolog.New(out).With().Timestamp().Str("service", opts.ServiceName)
	if opts.Env != "" {
		zctx = zctx.Str("env", opts.Env)
	}
	return &Logger{
		base:      zctx.Logger().Level(level),
		warnStack: opts.WarnStack,
	}
}

// ParseLevel maps a configured level name to zerolog, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// from returns the context logger, or the base logger when ctx carries none.
func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry := zerolog.Ctx(ctx); entry != nil && entry.GetLevel() != zerolog.Disabled {
			return entry
		}
	}
	return &l.base
}

func (l *Logger) with(ctx context.Context, add func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	entry := add(l.from(ctx).With()).Logger()
	return entry.WithContext(ctx)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Interface(key, value)
	})
}

// WithFields adds fields in key order so entries are stable across runs.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		for _, k := range keys {
			c = c.Interface(k, fields[k])
		}
		return c
	})
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithCertificateID(ctx context.Context, certificateID string) context.Context {
	return l.WithField(ctx, "certificate_id", certificateID)
}

// WithStage tags entries with the issuance stage they belong to.
func (l *Logger) WithStage(ctx context.Context, stage string) context.Context {
	return l.WithField(ctx, "stage", stage)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.from(ctx).Warn()
	if l.warnStack {
		event = event.Str("stack", callerStack())
	}
	event.Msg(msg)
}

// Error always carries the caller stack.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	event := l.from(ctx).Error()
	if err != nil {
		event = event.Err(err)
	}
	event.Str("stack", callerStack()).Msg(msg)
}

// callerStack drops the goroutine header and the frames for debug.Stack,
// callerStack itself and the Logger method, plus the trailing "created by"
// frame that names the parent goroutine.
func callerStack() string {
	lines := strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
	const skip = 1 + 3*2
	if len(lines) > skip {
		lines = lines[skip:]
	}
	out := lines[:0]
	for i := 0; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "created by ") {
			i++
			continue
		}
		out = append(out, lines[i])
	}
	return strings.Join(out, "\n")
}
