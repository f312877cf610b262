package dispatch

import (
	"sync"

	"github.com/cryguy/taskworker/internal/core"
)

// LazyWorker defers starting its worker until the first task is requested
// and memoizes one invocation function per method name.
//
// Once started, the worker lives until Destroy. A destroyed handle keeps its
// stopped dispatcher: functions obtained afterwards return calls that never
// settle.
type LazyWorker struct {
	cfg  core.WorkerConfig
	host core.Host
	opts []Option

	mu          sync.Mutex
	enforcedURL string
	dispatcher  *Dispatcher
	tasks       map[string]TaskFunc
}

// NewLazyWorker creates a handle for the worker described by cfg.
func NewLazyWorker(cfg core.WorkerConfig, host core.Host, opts ...Option) *LazyWorker {
	return &LazyWorker{
		cfg:   cfg,
		host:  host,
		opts:  opts,
		tasks: make(map[string]TaskFunc),
	}
}

// EnforceURL overrides the worker url. It only has an effect before the
// worker starts.
func (w *LazyWorker) EnforceURL(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enforcedURL = url
}

// URL returns the url the worker starts (or started) from.
func (w *LazyWorker) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.urlLocked()
}

func (w *LazyWorker) urlLocked() string {
	if w.enforcedURL != "" {
		return w.enforcedURL
	}
	return w.cfg.URL()
}

// Dispatcher returns the handle's dispatcher, starting the worker on first
// use. A failed start is not cached; the next call tries again.
func (w *LazyWorker) Dispatcher() (*Dispatcher, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dispatcherLocked()
}

func (w *LazyWorker) dispatcherLocked() (*Dispatcher, error) {
	if w.dispatcher != nil {
		return w.dispatcher, nil
	}
	d := New(w.opts...)
	if err := d.Start(w.urlLocked(), w.host); err != nil {
		return nil, err
	}
	w.dispatcher = d
	return d, nil
}

// Task returns the memoized invocation function for name. The options of
// the first request for a name win.
func (w *LazyWorker) Task(name string, opts ...TaskOption) (TaskFunc, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if fn, ok := w.tasks[name]; ok {
		return fn, nil
	}
	d, err := w.dispatcherLocked()
	if err != nil {
		return nil, err
	}
	fn := d.Task(name, opts...)
	w.tasks[name] = fn
	return fn, nil
}

// Started reports whether the worker has been started.
func (w *LazyWorker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dispatcher != nil
}

// Destroy stops the worker, if started, and clears the method cache. Safe
// to call repeatedly or on a handle never used.
func (w *LazyWorker) Destroy() {
	w.mu.Lock()
	d := w.dispatcher
	w.tasks = make(map[string]TaskFunc)
	w.mu.Unlock()

	if d != nil {
		d.Stop()
	}
}

// cachedTasks returns the number of memoized invocation functions.
func (w *LazyWorker) cachedTasks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}
