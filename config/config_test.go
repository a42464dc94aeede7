package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scripting "github.com/goliatone/go-scripting"
)

const sampleYAML = `
engine:
  id: batch
  terminate_on_idle: true
  setup_retries: 2
  setup_timeout: 3s
quickjs:
  memory_limit_mb: 64
  timeout: 2s
server:
  listen_addr: ":9000"
log:
  level: debug
  format: console
schedules:
  - name: nightly
    expression: "0 3 * * *"
    file: /scripts/nightly.js
    max_retries: 1
  - name: warmup
    after: 5s
    code: "return 1"
`

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(envListenAddr, "")
	t.Setenv(envLogLevel, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, defaultLogLevel, cfg.Log.Level)
	assert.Equal(t, defaultSyncTimeout, cfg.Server.SyncTimeout)
	assert.False(t, cfg.Engine.TerminateOnIdle)
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "batch", cfg.Engine.ID)
	assert.True(t, cfg.Engine.TerminateOnIdle)
	assert.Equal(t, 3*time.Second, cfg.Engine.SetupTimeout)
	assert.Equal(t, 64, cfg.QuickJS.MemoryLimitMB)
	assert.Equal(t, 2*time.Second, cfg.QuickJS.Timeout)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.Len(t, cfg.Schedules, 2)
	assert.Equal(t, 5*time.Second, cfg.Schedules[1].After)
}

func TestLoadFromEnvPathWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	t.Setenv(EnvConfigPath, path)
	t.Setenv(envListenAddr, ":7000")
	t.Setenv(envLogLevel, "WARN")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "batch", cfg.Engine.ID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadSchedules(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "schedules:\n  - expression: '@hourly'\n    code: x\n"},
		{"both triggers", "schedules:\n  - name: a\n    expression: '@hourly'\n    after: 1s\n    code: x\n"},
		{"no content", "schedules:\n  - name: a\n    expression: '@hourly'\n"},
		{"duplicate", "schedules:\n  - name: a\n    after: 1s\n    code: x\n  - name: a\n    after: 1s\n    code: y\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"negative retries", "engine:\n  setup_retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestScheduleJob(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	nightly := cfg.Schedules[0].Job()
	assert.Equal(t, scripting.FilePath("/scripts/nightly.js"), nightly.Content)
	assert.Equal(t, "0 3 * * *", nightly.Expression)
	assert.Equal(t, 1, nightly.MaxRetries)

	warmup := cfg.Schedules[1].Job()
	assert.Equal(t, "return 1", warmup.Content)
	assert.Equal(t, "warmup", warmup.Reference)
}

func TestEngineOptionsApply(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	engine := scripting.New(nil, cfg.Engine.Options()...)
	assert.Equal(t, "batch", engine.ID())
	assert.True(t, engine.TerminateOnIdle())
	assert.Len(t, cfg.QuickJS.Options(), 2)
}
