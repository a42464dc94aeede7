// Command scriptengine runs JavaScript through a single-worker script engine,
// either once from the command line or as a long-lived HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	glog "github.com/goliatone/go-logger/glog"

	scripting "github.com/goliatone/go-scripting"
	"github.com/goliatone/go-scripting/config"
	"github.com/goliatone/go-scripting/cron"
	"github.com/goliatone/go-scripting/metrics"
	"github.com/goliatone/go-scripting/quickjs"
	"github.com/goliatone/go-scripting/registry"
	"github.com/goliatone/go-scripting/server"
)

const stopTimeout = 15 * time.Second

type CLI struct {
	Config   string `help:"Path to a YAML config file." type:"path" env:"SCRIPTENGINE_CONFIG"`
	LogLevel string `help:"Override the configured log level." name:"log-level"`

	Run   RunCmd   `cmd:"" help:"Run script files in order, then exit."`
	Eval  EvalCmd  `cmd:"" help:"Evaluate a snippet and print its result as JSON."`
	Serve ServeCmd `cmd:"" help:"Serve the engine over HTTP."`
}

type RunCmd struct {
	Files []string `arg:"" help:"Script files to run." type:"existingfile"`
}

type EvalCmd struct {
	Code string `arg:"" help:"JavaScript to evaluate."`
}

type ServeCmd struct {
	Addr string `help:"Listen address, overrides the config." name:"addr"`
}

// app is what every command needs after flags are parsed.
type app struct {
	cfg    config.Config
	logger scripting.Logger
}

func (c *CLI) load() (*app, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	return &app{cfg: cfg, logger: newLogger(cfg.Log, os.Stderr)}, nil
}

func newLogger(cfg config.LogConfig, out io.Writer) scripting.Logger {
	if cfg.Format == "json" {
		return scripting.NewGlogLogger(glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(cfg.Level),
		))
	}
	return scripting.NewGlogLogger(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLevel(cfg.Level),
	))
}

func (a *app) newEngine(extra ...scripting.Option) *scripting.Engine {
	opts := append([]scripting.Option{scripting.WithLogger(a.logger)}, a.cfg.Engine.Options()...)
	opts = append(opts, extra...)
	return scripting.New(quickjs.New(a.cfg.QuickJS.Options()...), opts...)
}

func (r *RunCmd) Run(cli *CLI) error {
	a, err := cli.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := a.newEngine(scripting.WithTerminateOnIdle(true), scripting.WithQueueBeforeStart(true))
	results := make([]*scripting.ScriptResult, 0, len(r.Files))
	for _, file := range r.Files {
		results = append(results, engine.SubmitAsync(scripting.FilePath(file)))
	}

	if _, err := engine.Run(ctx); err != nil {
		return err
	}

	var failures error
	for idx, result := range results {
		if err := result.Err(); err != nil {
			failures = errors.Join(failures, fmt.Errorf("%s: %w", r.Files[idx], err))
		}
	}
	return failures
}

func (e *EvalCmd) Run(cli *CLI) error {
	a, err := cli.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := a.newEngine()
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		engine.Terminate()
		waitCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_, _ = engine.Wait(waitCtx)
	}()

	result, err := engine.SubmitSync(ctx, e.Code, scripting.WithReference("<eval>"))
	if err != nil {
		return err
	}
	value, err := result.Get(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(value)
}

func (s *ServeCmd) Run(cli *CLI) error {
	a, err := cli.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()
	var scheduler *cron.Scheduler
	rt := registry.NewRuntime(registry.RuntimeDependencies{
		Backend:   quickjs.New(a.cfg.QuickJS.Options()...),
		Registry:  registry.Default(),
		Listeners: []scripting.ExecutionListener{collector},
		EngineOptions: append(
			[]scripting.Option{scripting.WithLogger(a.logger)},
			a.cfg.Engine.Options()...,
		),
		NewScheduler: func(engine *scripting.Engine) registry.Scheduler {
			scheduler = cron.NewScheduler(engine,
				cron.WithLogger(a.logger),
				cron.WithOverlap(cron.OverlapSkip),
				cron.WithErrorHandler(func(err error) {
					a.logger.Error("scheduled script failed: %v", err)
				}),
			)
			return scheduler
		},
	})

	for _, sc := range a.cfg.Schedules {
		if sc.Expression != "" {
			_, err = scheduler.ScheduleCron(sc.Job())
		} else {
			_, err = scheduler.ScheduleAfter(sc.After, sc.Job())
		}
		if err != nil {
			return fmt.Errorf("schedule %s: %w", sc.Name, err)
		}
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}

	addr := a.cfg.Server.ListenAddr
	if s.Addr != "" {
		addr = s.Addr
	}
	srv := server.New(rt.Engine(),
		server.WithAddr(addr),
		server.WithLogger(a.logger),
		server.WithCollector(collector),
		server.WithAllowedOrigins(a.cfg.Server.AllowedOrigins...),
		server.WithSyncTimeout(a.cfg.Server.SyncTimeout),
	)
	serveErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return errors.Join(serveErr, rt.Stop(stopCtx))
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("scriptengine"),
		kong.Description("Single-worker JavaScript engine."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&cli))
}
