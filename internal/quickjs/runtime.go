//go:build !v8

// Package quickjs runs JS worker scripts on the pure-Go QuickJS engine.
package quickjs

import (
	"fmt"

	"modernc.org/quickjs"

	"github.com/cryguy/taskworker/internal/core"
)

// qjsRuntime implements core.JSRuntime for the QuickJS engine.
type qjsRuntime struct {
	vm *quickjs.VM
}

var _ core.JSRuntime = (*qjsRuntime)(nil)

// New creates a QuickJS VM. memoryLimitMB <= 0 leaves the heap unlimited.
func New(memoryLimitMB int) (core.JSRuntime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) * 1024 * 1024)
	}
	return &qjsRuntime{vm: vm}, nil
}

// Eval evaluates JavaScript and discards the result.
func (r *qjsRuntime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *qjsRuntime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *qjsRuntime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// The QuickJS wrapper hands (string, error) results back as a two-element
// array; the JS shim unwraps it and throws on error.
func (r *qjsRuntime) RegisterFunc(name string, fn func(arg string) (string, error)) error {
	rawName := "__raw_" + name
	raw := func(arg string) (string, error) { return fn(arg) }
	if err := r.vm.RegisterFunc(rawName, raw, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function(arg) {
			var r = raw(arg === undefined ? "" : String(arg));
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new Error(String(r[1]));
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, rawName)
	return r.Eval(wrapJS)
}

// RunMicrotasks pumps the QuickJS job queue.
func (r *qjsRuntime) RunMicrotasks() {
	executePendingJobs(r.vm)
}

// Interrupt aborts the script currently running.
func (r *qjsRuntime) Interrupt() {
	r.vm.Interrupt()
}

// Close releases the VM.
func (r *qjsRuntime) Close() {
	r.vm.Close()
}
