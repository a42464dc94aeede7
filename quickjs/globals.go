package quickjs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"modernc.org/quickjs"

	scripting "github.com/goliatone/go-scripting"
)

const (
	streamOutput = 1
	streamError  = 2
)

// preludeJS builds the script-facing API on top of the raw Go bindings.
const preludeJS = `
(function() {
	var join = function(args) {
		return Array.prototype.map.call(args, function(a) {
			if (typeof a === 'string') return a;
			try { return JSON.stringify(a); } catch (e) { return String(a); }
		}).join(' ');
	};
	var write = globalThis.__write;
	var signal = globalThis.__signal;
	var include = globalThis.__include;
	delete globalThis.__write;
	delete globalThis.__signal;
	delete globalThis.__include;

	var encode = function(v) { return v === undefined ? '' : JSON.stringify(v); };

	globalThis.print = function() { write(1, join(arguments)); };
	globalThis.console = {
		log: function() { write(1, join(arguments)); },
		info: function() { write(1, join(arguments)); },
		debug: function() { write(1, join(arguments)); },
		warn: function() { write(2, join(arguments)); },
		error: function() { write(2, join(arguments)); }
	};
	globalThis.exit = function(v) {
		signal('exit', encode(v));
		throw new Error('` + signalSentinel + `');
	};
	globalThis.breakScript = function(v) {
		signal('break', encode(v));
		throw new Error('` + signalSentinel + `');
	};
	globalThis.include = function(path) {
		var r = JSON.parse(include(String(path)));
		if (r.error) throw new Error(r.error);
		return r.value;
	};
})();
`

func (b *Backend) installGlobals(vm *quickjs.VM) error {
	if err := vm.RegisterFunc("__write", b.write, false); err != nil {
		return fmt.Errorf("registering __write: %w", err)
	}
	if err := vm.RegisterFunc("__signal", b.signal, false); err != nil {
		return fmt.Errorf("registering __signal: %w", err)
	}
	if err := vm.RegisterFunc("__include", b.include, false); err != nil {
		return fmt.Errorf("registering __include: %w", err)
	}

	v, err := vm.EvalValue(preludeJS, quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("evaluating prelude: %w", err)
	}
	v.Free()
	return nil
}

func (b *Backend) write(stream int, text string) {
	b.mu.Lock()
	engine := b.engine
	b.mu.Unlock()
	if engine == nil {
		return
	}

	var w io.Writer
	if stream == streamError {
		w = engine.ErrorStream()
	} else {
		w = engine.OutputStream()
	}
	if w != nil {
		fmt.Fprintln(w, text)
	}
}

func (b *Backend) signal(kind, payload string) {
	b.pending = &signal{kind: kind, payload: payload}
}

type includeReply struct {
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// include runs another file nested in the current script. Relative paths
// resolve against the including file.
func (b *Backend) include(path string) string {
	b.mu.Lock()
	engine := b.engine
	b.mu.Unlock()

	reply := includeReply{}
	if engine == nil {
		reply.Error = "include is unavailable: engine not attached"
		return encodeReply(reply)
	}

	resolved := engine.FileTrace().Resolve(path)
	ctx := b.active
	if ctx == nil {
		ctx = context.Background()
	}

	value, err := engine.Inject(ctx, scripting.FilePath(resolved)).Get(ctx)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Value = value
	}
	return encodeReply(reply)
}

func encodeReply(reply includeReply) string {
	raw, err := json.Marshal(reply)
	if err != nil {
		raw, _ = json.Marshal(includeReply{Error: err.Error()})
	}
	return string(raw)
}
