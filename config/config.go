// Package config loads the script engine configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	scripting "github.com/goliatone/go-scripting"
	"github.com/goliatone/go-scripting/cron"
	"github.com/goliatone/go-scripting/quickjs"
	"github.com/goliatone/go-scripting/runner"
)

const (
	defaultListenAddr  = ":8080"
	defaultLogLevel    = "info"
	defaultLogFormat   = "json"
	defaultSyncTimeout = 30 * time.Second

	EnvConfigPath = "SCRIPTENGINE_CONFIG"
	envListenAddr = "SCRIPTENGINE_LISTEN_ADDR"
	envLogLevel   = "SCRIPTENGINE_LOG_LEVEL"
)

// Config is the full engine configuration.
type Config struct {
	Engine    EngineConfig     `json:"engine" yaml:"engine"`
	QuickJS   QuickJSConfig    `json:"quickjs" yaml:"quickjs"`
	Server    ServerConfig     `json:"server" yaml:"server"`
	Log       LogConfig        `json:"log" yaml:"log"`
	Schedules []ScheduleConfig `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

type EngineConfig struct {
	ID               string        `json:"id,omitempty" yaml:"id,omitempty"`
	TerminateOnIdle  bool          `json:"terminate_on_idle,omitempty" yaml:"terminate_on_idle,omitempty"`
	QueueBeforeStart bool          `json:"queue_before_start,omitempty" yaml:"queue_before_start,omitempty"`
	SetupRetries     int           `json:"setup_retries,omitempty" yaml:"setup_retries,omitempty"`
	SetupTimeout     time.Duration `json:"setup_timeout,omitempty" yaml:"setup_timeout,omitempty"`
}

type QuickJSConfig struct {
	MemoryLimitMB int           `json:"memory_limit_mb,omitempty" yaml:"memory_limit_mb,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	GlobalEval    bool          `json:"global_eval,omitempty" yaml:"global_eval,omitempty"`
}

type ServerConfig struct {
	ListenAddr     string        `json:"listen_addr" yaml:"listen_addr"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	SyncTimeout    time.Duration `json:"sync_timeout,omitempty" yaml:"sync_timeout,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ScheduleConfig describes a script the scheduler submits. Exactly one of
// Expression and After must be set, and exactly one of File and Code.
type ScheduleConfig struct {
	Name       string        `json:"name" yaml:"name"`
	Expression string        `json:"expression,omitempty" yaml:"expression,omitempty"`
	After      time.Duration `json:"after,omitempty" yaml:"after,omitempty"`
	File       string        `json:"file,omitempty" yaml:"file,omitempty"`
	Code       string        `json:"code,omitempty" yaml:"code,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:     defaultListenAddr,
			AllowedOrigins: []string{"*"},
			SyncTimeout:    defaultSyncTimeout,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Parse decodes YAML (or JSON) over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Load reads path, falling back to $SCRIPTENGINE_CONFIG and then to the
// defaults, and applies environment overrides.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return cfg, cfg.Validate()
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.Engine.SetupRetries < 0 {
		return fmt.Errorf("engine.setup_retries must not be negative")
	}
	if c.QuickJS.MemoryLimitMB < 0 {
		return fmt.Errorf("quickjs.memory_limit_mb must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "pretty":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	names := make(map[string]struct{}, len(c.Schedules))
	for idx, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("schedules[%d]: %w", idx, err)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("schedules[%d]: duplicate name %s", idx, s.Name)
		}
		names[s.Name] = struct{}{}
	}
	return nil
}

func (s ScheduleConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if (s.Expression == "") == (s.After <= 0) {
		return fmt.Errorf("schedule %s requires exactly one of expression or after", s.Name)
	}
	if (s.File == "") == (s.Code == "") {
		return fmt.Errorf("schedule %s requires exactly one of file or code", s.Name)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("schedule %s: max_retries must not be negative", s.Name)
	}
	return nil
}

// Job converts the schedule into a cron job.
func (s ScheduleConfig) Job() cron.Job {
	job := cron.Job{
		Name:       s.Name,
		Expression: s.Expression,
		Timeout:    s.Timeout,
		MaxRetries: s.MaxRetries,
	}
	if s.File != "" {
		job.Content = scripting.FilePath(s.File)
		job.Reference = scripting.FilePath(s.File)
	} else {
		job.Content = s.Code
		job.Reference = s.Name
	}
	return job
}

// Options maps the engine section onto engine options.
func (e EngineConfig) Options() []scripting.Option {
	opts := []scripting.Option{
		scripting.WithTerminateOnIdle(e.TerminateOnIdle),
		scripting.WithQueueBeforeStart(e.QueueBeforeStart),
	}
	if e.ID != "" {
		opts = append(opts, scripting.WithID(e.ID))
	}
	var setup []runner.Option
	if e.SetupRetries > 0 {
		setup = append(setup, runner.WithMaxRetries(e.SetupRetries))
		setup = append(setup, runner.WithRetryStrategy(runner.ExponentialBackoffStrategy{
			Base:   100 * time.Millisecond,
			Factor: 2,
			Max:    5 * time.Second,
		}))
	}
	if e.SetupTimeout > 0 {
		setup = append(setup, runner.WithTimeout(e.SetupTimeout))
	}
	if len(setup) > 0 {
		opts = append(opts, scripting.WithSetupOptions(setup...))
	}
	return opts
}

// Options maps the quickjs section onto backend options.
func (q QuickJSConfig) Options() []quickjs.Option {
	var opts []quickjs.Option
	if q.MemoryLimitMB > 0 {
		opts = append(opts, quickjs.WithMemoryLimit(q.MemoryLimitMB))
	}
	if q.Timeout > 0 {
		opts = append(opts, quickjs.WithTimeout(q.Timeout))
	}
	if q.GlobalEval {
		opts = append(opts, quickjs.WithGlobalEval())
	}
	return opts
}
