//go:build v8

// Package v8engine runs JS worker scripts on V8.
package v8engine

import (
	"fmt"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/taskworker/internal/core"
)

// v8Runtime implements core.JSRuntime for the V8 engine.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.JSRuntime = (*v8Runtime)(nil)

// New creates an isolate and context. memoryLimitMB <= 0 uses V8's
// default heap limits.
func New(memoryLimitMB int) (core.JSRuntime, error) {
	var iso *v8.Isolate
	if memoryLimitMB > 0 {
		heapSize := uint64(memoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	return &v8Runtime{iso: iso, ctx: v8.NewContext(iso)}, nil
}

// Eval evaluates JavaScript and discards the result.
func (r *v8Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.ctx.RunScript(js, "eval_bool.js")
	if err != nil {
		return false, err
	}
	if val == nil {
		return false, nil
	}
	return val.Boolean(), nil
}

// RegisterFunc registers a Go function as a global JavaScript function. A
// returned error is thrown as an Error.
func (r *v8Runtime) RegisterFunc(name string, fn func(arg string) (string, error)) error {
	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		arg := ""
		if args := info.Args(); len(args) > 0 && !args[0].IsUndefined() {
			arg = args[0].String()
		}
		out, err := fn(arg)
		if err != nil {
			msg, _ := v8.NewValue(r.iso, fmt.Sprintf("Error: calling %s: %v", name, err))
			r.iso.ThrowException(msg)
			return nil
		}
		v, _ := v8.NewValue(r.iso, out)
		return v
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// Interrupt aborts the script currently running.
func (r *v8Runtime) Interrupt() {
	r.iso.TerminateExecution()
}

// Close releases the context and isolate.
func (r *v8Runtime) Close() {
	r.ctx.Close()
	r.iso.Dispose()
}
