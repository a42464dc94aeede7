package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	rcron "github.com/robfig/cron/v3"

	scripting "github.com/goliatone/go-scripting"
	"github.com/goliatone/go-scripting/runner"
)

// Logger interface shared across packages
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Submitter is the slice of an engine the scheduler feeds.
type Submitter interface {
	SubmitAsync(content any, opts ...scripting.ScriptOption) *scripting.ScriptResult
}

// Job describes a script to run on a schedule. Content is resubmitted on
// every run, so it must be a string, a []byte or a scripting.Source.
type Job struct {
	Name       string
	Expression string
	Content    any
	Reference  any
	// Timeout bounds the wait for each run's result. Zero waits forever.
	Timeout    time.Duration
	MaxRetries int
}

func (j Job) validate() error {
	switch j.Content.(type) {
	case string, []byte, scripting.Source:
		return nil
	default:
		return errors.New("scheduled content must be reusable", errors.CategoryBadInput).
			WithTextCode("INVALID_JOB_CONTENT").
			WithMetadata(map[string]any{"job": j.Name, "type": fmt.Sprintf("%T", j.Content)})
	}
}

// Scheduler submits scripts to an engine on cron expressions or timers.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	submitter    Submitter
	location     *time.Location
	errorHandler func(error)

	logger    Logger
	parser    Parser
	overlap   Overlap
	logWriter io.Writer
	logLevel  LogLevel

	nextHandleID int64
	handles      map[int64]*cronSubscription
}

// NewScheduler creates a new scheduler instance with the provided options.
func NewScheduler(submitter Submitter, opts ...Option) *Scheduler {
	cs := &Scheduler{
		submitter: submitter,
		location:  time.Local,
		parser:    DefaultParser,
		logLevel:  LogLevelError,
		errorHandler: func(err error) {
			log.Printf("error: %v\n", err)
		},
		handles: make(map[int64]*cronSubscription),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cs)
		}
	}

	cs.cron = rcron.New(cs.build()...)
	return cs
}

func (cs *Scheduler) SetLogger(logger Logger) {
	cs.logger = logger
}

// ScheduleCron submits job every time its expression fires.
func (s *Scheduler) ScheduleCron(job Job) (Handle, error) {
	if job.Expression == "" {
		return nil, errors.New("cron expression cannot be empty", errors.CategoryBadInput).
			WithTextCode("EMPTY_CRON_EXPRESSION").
			WithMetadata(map[string]any{"job": job.Name})
	}
	run, err := s.buildRunnable(job)
	if err != nil {
		return nil, err
	}

	sub := s.newHandle(job.Name)
	cronJob := rcron.FuncJob(func() {
		status := sub.Status()
		if isTerminalStatus(status) {
			return
		}

		sub.setStatus(ScheduleStatusRunning, nil)
		result, err := run()
		sub.recordRun(result)
		if err != nil {
			sub.setStatus(ScheduleStatusFailed, err)
			s.errorHandler(err)
			return
		}

		if !isTerminalStatus(sub.Status()) {
			sub.setStatus(ScheduleStatusIdle, nil)
		}
	})

	entryID, err := s.cron.AddJob(job.Expression, cronJob)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to add job").
			WithTextCode("INVALID_CRON_EXPRESSION").
			WithMetadata(map[string]any{"job": job.Name, "expression": job.Expression})
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleAfter submits job once after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, job Job) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), job)
}

// ScheduleAt submits job once at a specific time. One-shot schedules do
// not need Start.
func (s *Scheduler) ScheduleAt(at time.Time, job Job) (Handle, error) {
	run, err := s.buildRunnable(job)
	if err != nil {
		return nil, err
	}

	sub := s.newHandle(job.Name)
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		result, err := run()
		sub.recordRun(result)
		if err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			s.removeStoredHandle(sub.id)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
		s.removeStoredHandle(sub.id)
	}()

	return sub, nil
}

// RemoveHandler removes a scheduled job by entry ID.
func (s *Scheduler) RemoveHandler(entryID int) {
	if s == nil {
		return
	}

	var affected []*cronSubscription
	s.mu.Lock()
	for id, handle := range s.handles {
		if handle != nil && handle.entryID == entryID {
			affected = append(affected, handle)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	s.cron.Remove(rcron.EntryID(entryID))
	for _, handle := range affected {
		handle.setTerminal(ScheduleStatusCanceled, nil)
	}
}

// Handles lists the active schedules.
func (s *Scheduler) Handles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Start begins executing scheduled cron jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops executing scheduled jobs and marks active handles as stopped.
func (s *Scheduler) Stop(_ context.Context) error {
	s.cron.Stop()

	var handles []*cronSubscription
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*cronSubscription)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if isTerminalStatus(handle.Status()) {
			continue
		}
		handle.setTerminal(ScheduleStatusStopped, nil)
	}
	return nil
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *cronSubscription {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *cronSubscription) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[int64]*cronSubscription)
	}
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle(name string) *cronSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &cronSubscription{
		scheduler: s,
		id:        s.nextHandleID,
		name:      name,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

// buildRunnable returns a func that submits job and waits for its result,
// resubmitting on failure up to job.MaxRetries times.
func (s *Scheduler) buildRunnable(job Job) (func() (*scripting.ScriptResult, error), error) {
	if s.submitter == nil {
		return nil, errors.New("scheduler has no submitter", errors.CategoryBadInput).
			WithTextCode("SUBMITTER_NOT_SET")
	}
	if err := job.validate(); err != nil {
		return nil, err
	}

	h := runner.NewHandler(makeRunnerOptions(s, job)...)
	var scriptOpts []scripting.ScriptOption
	if job.Reference != nil {
		scriptOpts = append(scriptOpts, scripting.WithReference(job.Reference))
	}

	return func() (*scripting.ScriptResult, error) {
		var last *scripting.ScriptResult
		err := h.Run(context.Background(), func(ctx context.Context) error {
			last = s.submitter.SubmitAsync(job.Content, scriptOpts...)
			_, err := last.Get(ctx)
			return err
		})
		return last, err
	}, nil
}

func makeRunnerOptions(s *Scheduler, job Job) []runner.Option {
	runnerOpts := []runner.Option{
		runner.WithMaxRetries(job.MaxRetries),
		runner.WithErrorHandler(s.errorHandler),
	}
	if s.logger != nil {
		runnerOpts = append(runnerOpts, runner.WithLogger(s.logger))
	}
	if job.Timeout > 0 {
		runnerOpts = append(runnerOpts, runner.WithTimeout(job.Timeout))
	}
	return runnerOpts
}

func makeLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	cronLogger := rcron.PrintfLogger(stdLogger)
	if level >= LogLevelDebug {
		cronLogger = rcron.VerbosePrintfLogger(stdLogger)
	}
	return cronLogger
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	var cronLogger rcron.Logger
	switch {
	case s.logger != nil:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	case s.logWriter != nil:
		cronLogger = makeLogger(s.logWriter, s.logLevel)
	default:
		if s.logLevel > LogLevelSilent {
			cronLogger = makeLogger(os.Stdout, s.logLevel)
		}
	}

	var chain []rcron.JobWrapper
	if s.errorHandler != nil {
		chain = append(chain, rcron.Recover(&panicReporter{handler: s.errorHandler}))
	}
	overlapLogger := cronLogger
	if overlapLogger == nil {
		overlapLogger = rcron.DiscardLogger
	}
	switch s.overlap {
	case OverlapSkip:
		chain = append(chain, rcron.SkipIfStillRunning(overlapLogger))
	case OverlapDelay:
		chain = append(chain, rcron.DelayIfStillRunning(overlapLogger))
	}
	if len(chain) > 0 {
		opts = append(opts, rcron.WithChain(chain...))
	}

	if cronLogger != nil {
		opts = append(opts, rcron.WithLogger(cronLogger))
	}

	return opts
}
