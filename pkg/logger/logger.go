package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/payrecon/pkg/env"
)

const (
	FieldRequestID        = "request_id"
	FieldUserID           = "user_id"
	FieldPaymentReference = "payment_reference"
	FieldSubscriptionID   = "subscription_id"
	FieldTransactionID    = "transaction_id"

	maxStackFrames = 24
)

// Options configures the root logger. Level is parsed with ParseLevel, so an
// empty value means info.
type Options struct {
	ServiceName string
	Level       string
	WarnStack   bool
	Output      io.Writer
	// Console forces the human-readable writer. PAYRECON_LOG_FORMAT=console
	// turns it on as well.
	Console bool
}

// Logger carries billing context (payer, payment reference, subscription)
// from the request or sweep item down to every line logged for it.
type Logger struct {
	root      zerolog.Logger
	warnStack bool
}

type entryKey struct{}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Console || env.Get("PAYRECON_LOG_FORMAT", "json") == "console" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.TimeOnly,
			NoColor:    env.GetBool("PAYRECON_LOG_NO_COLOR", false),
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	root := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()

	return &Logger{root: root, warnStack: opts.WarnStack}
}

// ParseLevel accepts zerolog level names plus "warning". Anything else is info.
func ParseLevel(value string) zerolog.Level {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "warning" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(value)
	if err != nil || value == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) entry(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if e, ok := ctx.Value(entryKey{}).(*zerolog.Logger); ok {
			return e
		}
	}
	return &l.root
}

func (l *Logger) extend(ctx context.Context, add func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	next := add(l.entry(ctx).With()).Logger()
	return context.WithValue(ctx, entryKey{}, &next)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Interface(key, Redact(key, value))
	})
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		for k, v := range fields {
			c = c.Interface(k, Redact(k, v))
		}
		return c
	})
}

// withID attaches an identifier field. Blank ids are dropped so anonymous
// requests and unsent payments do not log empty strings.
func (l *Logger) withID(ctx context.Context, field, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str(field, id)
	})
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.withID(ctx, FieldRequestID, requestID)
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.withID(ctx, FieldUserID, userID)
}

func (l *Logger) WithPaymentReference(ctx context.Context, reference string) context.Context {
	return l.withID(ctx, FieldPaymentReference, reference)
}

func (l *Logger) WithSubscriptionID(ctx context.Context, subscriptionID string) context.Context {
	return l.withID(ctx, FieldSubscriptionID, subscriptionID)
}

// WithTransactionID tags entries with the processor's transaction id.
func (l *Logger) WithTransactionID(ctx context.Context, transactionID string) context.Context {
	return l.withID(ctx, FieldTransactionID, transactionID)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.entry(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.entry(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.entry(ctx).Warn()
	if l.warnStack {
		ev = ev.Str("stack", callerStack())
	}
	ev.Msg(msg)
}

// Error always records the caller stack; err may be nil.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.entry(ctx).Error().Err(err).Str("stack", callerStack()).Msg(msg)
}

// callerStack lists the frames above the logger, one "func file:line" each.
func callerStack() string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			fmt.Fprintf(&b, "%s %s:%d\n", f.Function, f.File, f.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
