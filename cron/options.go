package cron

import (
	"fmt"
	"io"
	"time"
)

// LogLevel controls how much of the underlying cron runner's chatter is kept.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser selects the accepted cron expression dialect.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	// SecondsParser expects a leading seconds field.
	SecondsParser
)

// Overlap decides what happens when a job fires while its previous run is
// still waiting on the engine.
type Overlap int

const (
	// OverlapAllow submits every firing; runs queue up on the engine.
	OverlapAllow Overlap = iota
	// OverlapSkip drops a firing while the previous run is in flight.
	OverlapSkip
	// OverlapDelay holds a firing until the previous run finishes.
	OverlapDelay
)

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithLogger routes cron runner logs and per-run retries to logger.
func WithLogger(logger Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithLogWriter writes cron runner logs to writer when no Logger is set.
func WithLogWriter(writer io.Writer) Option {
	return func(s *Scheduler) {
		s.logWriter = writer
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(s *Scheduler) {
		s.logLevel = level
	}
}

// WithErrorHandler receives every failed run, after retries, and any panic
// recovered from the cron runner.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		s.errorHandler = handler
	}
}

func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// WithOverlap sets the policy for cron firings that overlap a running job.
func WithOverlap(o Overlap) Option {
	return func(s *Scheduler) {
		s.overlap = o
	}
}

// loggerAdapter feeds robfig/cron's logger into a printf style Logger.
type loggerAdapter struct {
	logger Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, args ...any) {
	if l.level >= LogLevelInfo {
		l.logger.Info("cron: "+msg+"%s", kvSuffix(args))
	}
}

func (l *loggerAdapter) Error(err error, msg string, args ...any) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s%s: %v", msg, kvSuffix(args), err)
	}
}

// kvSuffix renders robfig/cron's alternating key/value args.
func kvSuffix(args []any) string {
	out := ""
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	return out
}

// panicReporter hands panics recovered by the cron chain to the error handler.
type panicReporter struct {
	handler func(error)
}

func (p *panicReporter) Info(string, ...any) {}

func (p *panicReporter) Error(err error, msg string, _ ...any) {
	if p.handler == nil {
		return
	}
	if err == nil {
		err = fmt.Errorf("%s", msg)
	}
	p.handler(err)
}
