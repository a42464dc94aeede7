package quickjs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scripting "github.com/goliatone/go-scripting"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newEngine(t *testing.T, opts ...Option) (*scripting.Engine, *syncBuffer, *syncBuffer) {
	t.Helper()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	engine := scripting.New(New(opts...),
		scripting.WithOutputStream(out),
		scripting.WithErrorStream(errOut),
		scripting.WithLogger(scripting.NewFmtLogger(io.Discard)),
	)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() {
		engine.Terminate()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = engine.Wait(ctx)
	})
	return engine, out, errOut
}

func run(t *testing.T, engine *scripting.Engine, code string) *scripting.ScriptResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := engine.SubmitSync(ctx, code)
	require.NoError(t, err)
	return result
}

func TestReturnsCompletionValue(t *testing.T) {
	engine, _, _ := newEngine(t)

	value, err := run(t, engine, "return 1+1").Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, value)

	value, err = run(t, engine, `return {name: "x", tags: ["a"]}`).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "tags": []any{"a"}}, value)

	value, err = run(t, engine, "var unused = 1;").Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestPrintAndConsoleUseEngineStreams(t *testing.T) {
	engine, out, errOut := newEngine(t)

	_, err := run(t, engine, `print("hello", 42); console.log({a: 1}); console.error("bad")`).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello 42\n{\"a\":1}\n", out.String())
	assert.Equal(t, "bad\n", errOut.String())
}

func TestExitAndBreakSignals(t *testing.T) {
	engine, _, _ := newEngine(t)

	exit := run(t, engine, `exit(5); return 1`)
	value, err := exit.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, value)
	assert.Equal(t, scripting.OutcomeExit, exit.Kind())

	brk := run(t, engine, `try { breakScript("done") } catch (e) {} return 1`)
	value, err = brk.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", value)
	assert.Equal(t, scripting.OutcomeBreak, brk.Kind())

	plain := run(t, engine, `exit()`)
	value, err = plain.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Equal(t, scripting.OutcomeExit, plain.Kind())
}

func TestThrownErrorFailsScript(t *testing.T) {
	engine, _, errOut := newEngine(t)

	result := run(t, engine, `throw new Error("x")`)
	_, err := result.Get(context.Background())
	require.Error(t, err)
	assert.True(t, scripting.IsExecutionFailed(err))
	assert.Contains(t, errOut.String(), "x")

	value, err := run(t, engine, "return 'still alive'").Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still alive", value)
}

func TestGlobalEvalKeepsDeclarations(t *testing.T) {
	engine, _, _ := newEngine(t, WithGlobalEval())

	_, err := run(t, engine, "var counter = 40;").Get(context.Background())
	require.NoError(t, err)

	value, err := run(t, engine, "counter + 2").Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 42, value)
}

func TestTimeoutInterruptsRunawayScript(t *testing.T) {
	engine, _, _ := newEngine(t, WithTimeout(100*time.Millisecond))

	result := run(t, engine, "while (true) {}")
	_, err := result.Get(context.Background())
	require.Error(t, err)
	assert.True(t, scripting.IsExecutionFailed(err))

	value, err := run(t, engine, "return 'after'").Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after", value)
}

func TestExecuteWithoutSetupFails(t *testing.T) {
	_, err := New().Execute(context.Background(), strings.NewReader("return 1"), nil, "")
	require.Error(t, err)
}

func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

func TestIncludeRunsNestedFiles(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"main.js":       `var a = include('lib/inner.js'); var b = include('lib/quit.js'); return a + b;`,
		"lib/inner.js":  `return include('helper.js') + 2`,
		"lib/helper.js": `return 3`,
		"lib/quit.js":   `exit(7); return 0`,
	})
	engine, _, _ := newEngine(t)

	var starts atomic.Int32
	engine.AddExecutionListener(scripting.ListenerFunc(func(_ *scripting.Engine, _ *scripting.Script, kind scripting.EventKind) {
		if kind == scripting.EventScriptStart {
			starts.Add(1)
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := engine.SubmitSync(ctx, scripting.FilePath(filepath.Join(dir, "main.js")))
	require.NoError(t, err)

	value, err := result.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 12, value)
	assert.Equal(t, scripting.OutcomeSuccess, result.Kind())
	assert.Equal(t, 0, engine.FileTrace().Depth())
	assert.Equal(t, int32(1), starts.Load())
}

func TestIncludeFailureSurfacesAsScriptError(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"main.js":   `try { include('missing.js') } catch (e) { return 'caught: ' + (e.message.length > 0) } return 'no error'`,
		"bad.js":    `include('broken.js'); return 'unreachable'`,
		"broken.js": `throw new Error("nested boom")`,
	})
	engine, _, _ := newEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := engine.SubmitSync(ctx, scripting.FilePath(filepath.Join(dir, "main.js")))
	require.NoError(t, err)
	value, err := result.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "caught: true", value)

	result, err = engine.SubmitSync(ctx, scripting.FilePath(filepath.Join(dir, "bad.js")))
	require.NoError(t, err)
	_, err = result.Get(ctx)
	require.Error(t, err)
	assert.True(t, scripting.IsExecutionFailed(err))
	assert.Equal(t, 0, engine.FileTrace().Depth())

	value, err = run(t, engine, "return 'still alive'").Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still alive", value)
}

// depthBackend records the trace depth seen by every Execute call.
type depthBackend struct {
	*Backend
	engine *scripting.Engine
	depths []int
	files  []string
}

func (d *depthBackend) Execute(ctx context.Context, code io.Reader, ref any, fileName string) (any, error) {
	d.depths = append(d.depths, d.engine.FileTrace().Depth())
	d.files = append(d.files, fileName)
	return d.Backend.Execute(ctx, code, ref, fileName)
}

func TestIncludeNestsInsideTrace(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"outer.js": `return include('inner.js') + 1`,
		"inner.js": `return 5`,
	})
	backend := &depthBackend{Backend: New()}
	engine := scripting.New(backend, scripting.WithLogger(scripting.NewFmtLogger(io.Discard)))
	backend.engine = engine
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() {
		engine.Terminate()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = engine.Wait(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outer := filepath.Join(dir, "outer.js")
	result, err := engine.SubmitSync(ctx, scripting.FilePath(outer))
	require.NoError(t, err)

	value, err := result.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, value)
	assert.Equal(t, []int{1, 2}, backend.depths)
	assert.Equal(t, []string{outer, filepath.Join(dir, "inner.js")}, backend.files)
	assert.Equal(t, 0, engine.FileTrace().Depth())
}
