package core

// JSRuntime abstracts the JavaScript engine (QuickJS or V8) a script worker
// runs on. All calls must come from one goroutine at a time; engines are
// single-threaded.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// The function takes and returns strings; a non-nil error throws.
	RegisterFunc(name string, fn func(arg string) (string, error)) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	// V8: PerformMicrotaskCheckpoint, QuickJS: ExecutePendingJob loop.
	RunMicrotasks()

	// Interrupt aborts the script currently running, if any.
	Interrupt()

	// Close releases the engine.
	Close()
}
