// Package host provides the execution contexts workers run in: in-process
// goroutines behind mailbox ports, and a scheme router over other hosts.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"runtime/debug"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
)

// Loader resolves a url no registered worker matches, for example a JS
// worker script on disk. It returns core.ErrUnknownURL when it cannot.
type Loader func(url string) (core.WorkerMain, error)

// Local runs workers as goroutines in the current process. Workers are
// registered by file name and matched against the last element of the url.
type Local struct {
	mu      sync.RWMutex
	workers map[string]core.WorkerMain
	loaders []Loader
	logger  *log.Logger
}

// LocalOption configures a Local host.
type LocalOption func(*Local)

// WithLoader adds a fallback resolver consulted in order after the
// registry.
func WithLoader(l Loader) LocalOption {
	return func(h *Local) { h.loaders = append(h.loaders, l) }
}

// WithLogger routes host logs to l.
func WithLogger(l *log.Logger) LocalOption {
	return func(h *Local) { h.logger = l }
}

// NewLocal creates an empty in-process host.
func NewLocal(opts ...LocalOption) *Local {
	h := &Local{workers: make(map[string]core.WorkerMain)}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	return h
}

// Register makes main available under name (e.g. "parser-worker.js").
func (h *Local) Register(name string, main core.WorkerMain) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = main
}

// Lookup resolves url to a worker entry point.
func (h *Local) Lookup(url string) (core.WorkerMain, error) {
	h.mu.RLock()
	main, ok := h.workers[url]
	if !ok {
		main, ok = h.workers[path.Base(url)]
	}
	loaders := h.loaders
	h.mu.RUnlock()
	if ok {
		return main, nil
	}

	for _, load := range loaders {
		main, err := load(url)
		if err == nil {
			return main, nil
		}
		if !errors.Is(err, core.ErrUnknownURL) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnknownURL, url)
}

// Spawn starts the worker for url on its own goroutine.
func (h *Local) Spawn(url string) (core.Port, error) {
	main, err := h.Lookup(url)
	if err != nil {
		return nil, err
	}
	return Run(main, h.logger), nil
}

// Run starts main on a fresh goroutine and returns the UI-side port. A
// panicking worker is reported on the port's error channel and its port
// closes. A nil logger means log.Default().
func Run(main core.WorkerMain, logger *log.Logger) core.Port {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &localPort{
		in:     NewMailbox(),
		out:    NewMailbox(),
		errs:   make(chan error, 8),
		cancel: cancel,
		logger: logger,
	}

	go func() {
		defer p.Terminate()
		defer func() {
			if r := recover(); r != nil {
				p.report(fmt.Errorf("worker panic: %v\n%s", r, debug.Stack()))
			}
		}()
		main(ctx, &localScope{in: p.in, out: p.out})
	}()
	return p
}

type localPort struct {
	in, out *Mailbox
	errs    chan error
	cancel  context.CancelFunc
	logger  *log.Logger
	once    sync.Once
}

func (p *localPort) PostMessage(msg []byte) error { return p.in.Put(msg) }
func (p *localPort) Messages() <-chan []byte      { return p.out.C() }
func (p *localPort) Errors() <-chan error         { return p.errs }

func (p *localPort) Terminate() error {
	p.once.Do(func() {
		p.cancel()
		p.in.Close()
		p.out.Close()
	})
	return nil
}

// report delivers a worker failure without blocking the worker. If nobody
// drains the error channel the failure is only logged.
func (p *localPort) report(err error) {
	select {
	case p.errs <- err:
	default:
		p.logger.Printf("taskworker: dropped worker error: %v", err)
	}
}

type localScope struct {
	in, out *Mailbox
}

func (s *localScope) PostMessage(msg []byte) error { return s.out.Put(msg) }
func (s *localScope) Messages() <-chan []byte      { return s.in.C() }
