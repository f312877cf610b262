// Package jsworker runs JavaScript worker scripts. A script's default
// export is an object of methods; each becomes a worker method reachable
// through the regular request/response protocol.
//
//	export default {
//	  sum(a, b) { return a + b; },
//	  async lookup(id) { ... },
//	};
package jsworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/handler"
	"github.com/cryguy/taskworker/internal/host"
)

// Options configures script workers.
type Options struct {
	MemoryLimitMB    int
	ExecutionTimeout time.Duration // per call; <= 0 means core.DefaultExecutionTimeout
	Logger           *log.Logger
}

func (o Options) withDefaults() Options {
	if o.ExecutionTimeout <= 0 {
		o.ExecutionTimeout = core.DefaultExecutionTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// OptionsFrom derives script worker options from host configuration.
func OptionsFrom(cfg core.Config, logger *log.Logger) Options {
	return Options{MemoryLimitMB: cfg.MemoryLimitMB, ExecutionTimeout: cfg.ExecutionTimeout, Logger: logger}
}

// preludeJS installs the call trampoline used by the host. Results and
// errors are left in globals for the host to collect once the returned
// promise settles.
const preludeJS = `
(function() {
	globalThis.__invoke = function(name, argsJSON) {
		delete globalThis.__state;
		delete globalThis.__value;
		var settle = function(state, value) {
			globalThis.__state = state;
			globalThis.__value = value;
		};
		var p;
		try {
			var m = globalThis.__worker_module__;
			if (!m || typeof m[name] !== 'function') {
				throw new TypeError(name + ' is not a function');
			}
			p = Promise.resolve(m[name].apply(m, JSON.parse(argsJSON)));
		} catch (e) {
			p = Promise.reject(e);
		}
		p.then(function(r) {
			var s = JSON.stringify(r === undefined ? null : r);
			settle('fulfilled', s === undefined ? 'null' : s);
		}, function(e) {
			settle('rejected', String(e));
		});
	};
	globalThis.__methods = function() {
		var m = globalThis.__worker_module__ || {};
		return JSON.stringify(Object.keys(m).filter(function(k) {
			return typeof m[k] === 'function';
		}));
	};
})();
`

const consoleJS = `
(function() {
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	levels.forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) {
				var arg = arguments[i];
				if (typeof arg === 'object' && arg !== null) {
					try { parts.push(JSON.stringify(arg)); } catch (e) { parts.push(String(arg)); }
				} else {
					parts.push(String(arg));
				}
			}
			__console(lvl + ' ' + parts.join(' '));
		};
	});
	globalThis.console = con;
})();
`

// script is a JS runtime with a worker script loaded. Engines are
// single-threaded, so calls are serialized.
type script struct {
	name string
	opts Options

	mu sync.Mutex
	rt core.JSRuntime
}

func load(name, code string, opts Options) (*script, error) {
	rt, err := newRuntime(opts.MemoryLimitMB)
	if err != nil {
		return nil, err
	}
	s := &script{name: name, opts: opts, rt: rt}

	if err := rt.RegisterFunc("__console", s.console); err != nil {
		rt.Close()
		return nil, fmt.Errorf("registering console: %w", err)
	}
	for _, js := range []string{consoleJS, preludeJS} {
		if err := rt.Eval(js); err != nil {
			rt.Close()
			return nil, fmt.Errorf("installing prelude: %w", err)
		}
	}
	if err := rt.Eval(code); err != nil {
		rt.Close()
		return nil, fmt.Errorf("running %s: %w", name, err)
	}
	ok, err := rt.EvalBool("typeof globalThis.__worker_module__ === 'object' && globalThis.__worker_module__ !== null")
	if err != nil || !ok {
		rt.Close()
		return nil, fmt.Errorf("%s did not export a default object", name)
	}
	return s, nil
}

func (s *script) console(line string) (string, error) {
	level, msg, _ := strings.Cut(line, " ")
	s.opts.Logger.Printf("taskworker: %s console.%s: %s", s.name, level, msg)
	return "", nil
}

// methods lists the functions the script exports.
func (s *script) methods() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.rt.EvalString("__methods()")
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(out), &names); err != nil {
		return nil, fmt.Errorf("listing methods of %s: %w", s.name, err)
	}
	return names, nil
}

// call runs one method and waits for its promise. A call that outlives the
// execution timeout or its context is interrupted.
func (s *script) call(ctx context.Context, method string, args []json.RawMessage) (any, error) {
	if args == nil {
		args = []json.RawMessage{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, core.NewRemoteError(core.KindDataClone, "%v", err)
	}
	quoted, _ := json.Marshal(string(argsJSON))
	name, _ := json.Marshal(method)

	s.mu.Lock()
	defer s.mu.Unlock()

	var interrupted atomic.Bool
	interrupt := func() {
		interrupted.Store(true)
		s.rt.Interrupt()
	}
	watchdog := time.AfterFunc(s.opts.ExecutionTimeout, interrupt)
	defer watchdog.Stop()
	stop := context.AfterFunc(ctx, interrupt)
	defer stop()

	if err := s.rt.Eval(fmt.Sprintf("__invoke(%s, %s)", name, quoted)); err != nil {
		if interrupted.Load() {
			return nil, core.NewRemoteError(core.KindTimeout, "%s.%s interrupted after %v", s.name, method, s.opts.ExecutionTimeout)
		}
		return nil, core.ParseRemoteError(err.Error())
	}

	state, err := s.settle()
	if err != nil {
		return nil, err
	}
	value, err := s.rt.EvalString("globalThis.__value")
	if err != nil {
		return nil, err
	}
	switch state {
	case "fulfilled":
		return json.RawMessage(value), nil
	case "rejected":
		return nil, core.ParseRemoteError(value)
	default:
		return nil, core.NewRemoteError(core.KindTimeout, "%s.%s returned a promise that never settled", s.name, method)
	}
}

// settle pumps the job queue until the pending call's promise settles or
// no job is left that could settle it.
func (s *script) settle() (string, error) {
	for i := 0; i < 64; i++ {
		s.rt.RunMicrotasks()
		state, err := s.rt.EvalString("String(globalThis.__state)")
		if err != nil {
			return "", fmt.Errorf("checking promise state: %w", err)
		}
		if state != "undefined" {
			return state, nil
		}
	}
	return "", nil
}

func (s *script) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rt.Close()
}

// table builds the method table of a loaded script.
func (s *script) table() (*handler.Table, error) {
	names, err := s.methods()
	if err != nil {
		return nil, err
	}
	tbl := handler.NewTable()
	for _, name := range names {
		tbl.Handle(name, func(ctx context.Context, args []json.RawMessage) (any, error) {
			return s.call(ctx, name, args)
		})
	}
	return tbl, nil
}

// Compile checks that code loads and returns a worker entry point running
// it. Each spawned worker gets its own engine instance.
func Compile(name, code string, opts Options) (core.WorkerMain, error) {
	opts = opts.withDefaults()
	probe, err := load(name, code, opts)
	if err != nil {
		return nil, err
	}
	probe.close()

	return func(ctx context.Context, scope core.Scope) {
		s, err := load(name, code, opts)
		if err != nil {
			opts.Logger.Printf("taskworker: %v", err)
			return
		}
		defer s.close()
		tbl, err := s.table()
		if err != nil {
			opts.Logger.Printf("taskworker: %v", err)
			return
		}
		handler.Serve(ctx, scope, handler.New(tbl, handler.WithLogger(opts.Logger)), nil)
	}, nil
}

// Load bundles the script at file and compiles it.
func Load(file string, opts Options) (core.WorkerMain, error) {
	code, err := Bundle(file)
	if err != nil {
		return nil, err
	}
	return Compile(path.Base(file), code, opts)
}

// Loader resolves urls naming an existing .js file, for host.WithLoader.
// Scripts are bundled and compiled on every spawn so edits are picked up.
func Loader(opts Options) host.Loader {
	return func(url string) (core.WorkerMain, error) {
		file := strings.TrimPrefix(url, "file://")
		if !strings.HasSuffix(file, ".js") && !strings.HasSuffix(file, ".mjs") {
			return nil, core.ErrUnknownURL
		}
		if info, err := os.Stat(file); err != nil || info.IsDir() {
			return nil, core.ErrUnknownURL
		}
		return Load(file, opts)
	}
}
