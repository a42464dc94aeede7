package scripting

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is what the engine and its helpers log through.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger is implemented by loggers that carry structured fields.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

// LogLevel orders FmtLogger output. Lines below the logger's minimum are
// dropped.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"trace", "debug", "info", "warn", "error"}

func (l LogLevel) String() string {
	if l < LevelTrace || l > LevelError {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// FmtLogger writes one logfmt-style line per entry:
//
//	ts=2024-05-01T10:00:00Z level=info msg="engine started" engine_id=primary
//
// It is the default when no logger is configured.
type FmtLogger struct {
	w      *lockedWriter
	min    LogLevel
	fields map[string]any
}

type lockedWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewFmtLogger logs everything at or above LevelTrace to out, or to stderr
// when out is nil.
func NewFmtLogger(out io.Writer) *FmtLogger {
	if out == nil {
		out = os.Stderr
	}
	return &FmtLogger{w: &lockedWriter{out: out}}
}

// WithLevel returns a copy that drops entries below level.
func (l *FmtLogger) WithLevel(level LogLevel) *FmtLogger {
	cp := *l
	cp.min = level
	return &cp
}

func (l *FmtLogger) Trace(msg string, args ...any) { l.emit(LevelTrace, msg, args) }
func (l *FmtLogger) Debug(msg string, args ...any) { l.emit(LevelDebug, msg, args) }
func (l *FmtLogger) Info(msg string, args ...any)  { l.emit(LevelInfo, msg, args) }
func (l *FmtLogger) Warn(msg string, args ...any)  { l.emit(LevelWarn, msg, args) }
func (l *FmtLogger) Error(msg string, args ...any) { l.emit(LevelError, msg, args) }

// WithContext is a no-op; FmtLogger reads nothing from the context.
func (l *FmtLogger) WithContext(context.Context) Logger { return l }

func (l *FmtLogger) WithFields(fields map[string]any) Logger {
	cp := *l
	cp.fields = mergeFields(l.fields, fields)
	return &cp
}

func (l *FmtLogger) emit(level LogLevel, msg string, args []any) {
	if level < l.min {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var b strings.Builder
	b.WriteString("ts=")
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteString(" level=")
	b.WriteString(level.String())
	b.WriteString(" msg=")
	b.WriteString(logfmtValue(strings.TrimSpace(msg)))
	writeFields(&b, l.fields)
	b.WriteByte('\n')

	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	_, _ = io.WriteString(l.w.out, b.String())
}

func writeFields(b *strings.Builder, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(logfmtValue(fmt.Sprint(fields[k])))
	}
}

func logfmtValue(s string) string {
	if s == "" || strings.ContainsAny(s, " =\"\t\n") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

type glogLogger struct {
	logger glog.Logger
}

// NewGlogLogger adapts a go-logger logger. A nil logger falls back to an
// FmtLogger on stderr.
func NewGlogLogger(logger glog.Logger) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	return glogLogger{logger: logger}
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) Logger {
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func normalizeLogger(logger Logger) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	return logger
}

// withLoggerFields attaches fields when logger supports them and returns it
// unchanged otherwise.
func withLoggerFields(logger Logger, fields map[string]any) Logger {
	if fl, ok := normalizeLogger(logger).(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}

func mergeFields(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
