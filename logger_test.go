package scripting

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtLoggerWritesLogfmtLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFmtLogger(&buf).WithFields(map[string]any{"engine_id": "primary", "note": "two words"})

	logger.Info("script %s failed", "abc")
	line := strings.TrimSpace(buf.String())

	assert.True(t, strings.HasPrefix(line, "ts="))
	assert.Contains(t, line, ` level=info msg="script abc failed" engine_id=primary note="two words"`)
}

func TestFmtLoggerDropsEntriesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFmtLogger(&buf).WithLevel(LevelWarn)

	logger.Trace("t")
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "level=warn msg=w")
	assert.Contains(t, lines[1], "level=error msg=e")
}

func TestFmtLoggerFieldsDoNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewFmtLogger(&buf)
	_ = parent.WithFields(map[string]any{"script_id": "x"})

	parent.Info("plain")
	assert.NotContains(t, buf.String(), "script_id")
}

type recordingGlog struct {
	lines  *[]string
	fields map[string]any
}

func (r recordingGlog) record(level, msg string) {
	*r.lines = append(*r.lines, level+":"+msg)
}

func (r recordingGlog) Trace(msg string, _ ...any)              { r.record("trace", msg) }
func (r recordingGlog) Debug(msg string, _ ...any)              { r.record("debug", msg) }
func (r recordingGlog) Info(msg string, _ ...any)               { r.record("info", msg) }
func (r recordingGlog) Warn(msg string, _ ...any)               { r.record("warn", msg) }
func (r recordingGlog) Error(msg string, _ ...any)              { r.record("error", msg) }
func (r recordingGlog) Fatal(msg string, _ ...any)              { r.record("fatal", msg) }
func (r recordingGlog) WithContext(context.Context) glog.Logger { return r }
func (r recordingGlog) WithFields(fields map[string]any) glog.Logger {
	return recordingGlog{lines: r.lines, fields: mergeFields(r.fields, fields)}
}

func TestGlogLoggerForwardsLevelsAndFields(t *testing.T) {
	var lines []string
	logger := NewGlogLogger(recordingGlog{lines: &lines})

	scoped := withLoggerFields(logger.WithContext(context.Background()), map[string]any{"engine_id": "e"})
	scoped.Info("started")
	scoped.Warn("slow")

	assert.Equal(t, []string{"info:started", "warn:slow"}, lines)
	inner, ok := scoped.(glogLogger).logger.(recordingGlog)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"engine_id": "e"}, inner.fields)

	_, isFmt := NewGlogLogger(nil).(*FmtLogger)
	assert.True(t, isFmt)
}
