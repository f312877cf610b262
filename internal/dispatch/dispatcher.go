package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/eventloop"
	"github.com/cryguy/taskworker/internal/wire"
)

// pendingCall is one call waiting in a batch.
type pendingCall struct {
	args []json.RawMessage
	call *Call
}

// listener receives the messages addressed to one request id. deliver
// reports whether the listener is finished and can be dropped.
type listener interface {
	deliver(msg []byte) bool
}

// Dispatcher owns one worker port and turns named method calls into
// correlated request/response messages.
//
// Responses are processed as turns on the dispatcher's event loop; queued
// tasks flush as microtasks on the same loop, so every call made during one
// turn lands in one batch.
type Dispatcher struct {
	loop   *eventloop.EventLoop
	logger *log.Logger

	mu        sync.Mutex
	port      core.Port
	url       string
	msgID     int
	listeners map[int]listener
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger routes dispatcher logs to l.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithEventLoop shares an existing event loop, so several dispatchers run
// their turns on the same "thread".
func WithEventLoop(el *eventloop.EventLoop) Option {
	return func(d *Dispatcher) { d.loop = el }
}

// New creates a dispatcher. It does nothing until Start.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{listeners: make(map[int]listener)}
	for _, opt := range opts {
		opt(d)
	}
	if d.loop == nil {
		d.loop = eventloop.New()
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	return d
}

// Start spawns the worker at url on host and begins receiving its messages.
// Worker errors are logged, never fatal. Starting a started dispatcher
// replaces its port and orphans the previous worker.
func (d *Dispatcher) Start(url string, host core.Host) error {
	port, err := host.Spawn(url)
	if err != nil {
		return fmt.Errorf("starting worker %s: %w", url, err)
	}

	d.mu.Lock()
	d.port = port
	d.url = url
	d.mu.Unlock()

	go d.receive(port, url)
	return nil
}

// Stop terminates the worker. Calls still in flight never settle. Safe to
// call when not started.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	port := d.port
	d.port = nil
	d.listeners = make(map[int]listener)
	d.mu.Unlock()

	if port == nil {
		return
	}
	if err := port.Terminate(); err != nil {
		d.logger.Printf("taskworker: terminating worker %s: %v", d.url, err)
	}
}

// Started reports whether the dispatcher holds a live worker port.
func (d *Dispatcher) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port != nil
}

// URL returns the url the dispatcher was last started with.
func (d *Dispatcher) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Loop returns the dispatcher's event loop.
func (d *Dispatcher) Loop() *eventloop.EventLoop {
	return d.loop
}

// Turn runs fn as one turn of the event loop. Queued calls made inside fn
// share a single flush per method. Responses are delivered in turns of
// their own, so fn must not wait on a Call: it would block until its
// context expires.
func (d *Dispatcher) Turn(fn func()) {
	d.loop.Run(fn)
}

// TaskFunc invokes a dispatched method. Each invocation returns its own Call.
type TaskFunc func(args ...any) *Call

type taskOptions struct {
	queue bool
}

// TaskOption configures Task.
type TaskOption func(*taskOptions)

// Queue sets whether calls are batched until the end of the current turn
// (true) or sent one request per call (false, the default).
func Queue(enabled bool) TaskOption {
	return func(o *taskOptions) { o.queue = enabled }
}

// Task returns the invocation function for method.
func (d *Dispatcher) Task(method string, opts ...TaskOption) TaskFunc {
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		mu    sync.Mutex
		batch []*pendingCall
	)
	flush := func() {
		mu.Lock()
		items := batch
		batch = nil
		mu.Unlock()
		d.flush(method, items)
	}

	return func(args ...any) *Call {
		c := newCall()
		encoded, err := wire.EncodeArgs(args)
		if err != nil {
			c.reject(err)
			return c
		}
		pc := &pendingCall{args: encoded, call: c}

		if !o.queue {
			d.flush(method, []*pendingCall{pc})
			return c
		}

		mu.Lock()
		first := len(batch) == 0
		batch = append(batch, pc)
		mu.Unlock()
		if first {
			d.loop.QueueMicrotask(flush)
		}
		return c
	}
}

// Invoke calls method once without batching.
func (d *Dispatcher) Invoke(method string, args ...any) *Call {
	return d.Task(method)(args...)
}

// flush sends one request for items. Without a live port the batch is
// dropped and its calls never settle.
func (d *Dispatcher) flush(method string, items []*pendingCall) {
	if len(items) == 0 {
		return
	}

	d.mu.Lock()
	port := d.port
	if port == nil {
		d.mu.Unlock()
		return
	}
	d.msgID++
	id := d.msgID
	d.listeners[id] = &batchListener{calls: items}
	d.mu.Unlock()

	calls := make([][]json.RawMessage, len(items))
	for i, item := range items {
		calls[i] = item.args
	}
	if err := d.post(port, id, core.Request{ID: id, Method: method, Calls: calls}); err != nil {
		for _, item := range items {
			item.call.reject(err)
		}
	}
}

// post encodes and sends an envelope registered under id. A closed port is
// treated like an absent one: the listener is dropped and nil returned.
func (d *Dispatcher) post(port core.Port, id int, envelope any) error {
	data, err := wire.Marshal(envelope)
	if err == nil {
		err = port.PostMessage(data)
	}
	if err == nil {
		return nil
	}

	d.mu.Lock()
	delete(d.listeners, id)
	d.mu.Unlock()
	if errors.Is(err, core.ErrPortClosed) {
		return nil
	}
	return err
}

// receive pumps the port's messages into event-loop turns, in arrival order,
// until the port closes.
func (d *Dispatcher) receive(port core.Port, url string) {
	msgs := port.Messages()
	errs := port.Errors()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				d.drainErrors(errs, url)
				return
			}
			d.loop.Run(func() { d.handleMessage(port, msg) })
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Printf("taskworker: error in worker %s: %v", url, err)
		}
	}
}

// drainErrors logs what a dying worker reported before its port closed.
func (d *Dispatcher) drainErrors(errs <-chan error, url string) {
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			d.logger.Printf("taskworker: error in worker %s: %v", url, err)
		default:
			return
		}
	}
}

// handleMessage routes a worker message to the listener registered for its
// id. Messages arriving after Stop, or from a replaced port, are dropped.
func (d *Dispatcher) handleMessage(port core.Port, msg []byte) {
	id, ok := wire.ID(msg)
	if !ok {
		d.logger.Printf("taskworker: dropping %s message without id", wire.Classify(msg))
		return
	}

	d.mu.Lock()
	if d.port != port {
		d.mu.Unlock()
		return
	}
	l, found := d.listeners[id]
	d.mu.Unlock()
	if !found {
		return
	}

	if l.deliver(msg) {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// pending returns the number of requests awaiting a response.
func (d *Dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// batchListener settles the calls of one flushed batch from its response.
type batchListener struct {
	calls []*pendingCall
}

func (l *batchListener) deliver(msg []byte) bool {
	var resp core.Response
	if err := wire.Unmarshal(msg, &resp); err != nil {
		for _, pc := range l.calls {
			pc.call.reject(core.NewRemoteError(core.KindProtocol, "%v", err))
		}
		return true
	}

	for i, pc := range l.calls {
		if i >= len(resp.Results) {
			pc.call.reject(core.NewRemoteError(core.KindProtocol,
				"response %d carried %d results for %d calls", resp.ID, len(resp.Results), len(l.calls)))
			continue
		}
		r := resp.Results[i]
		if r.Failed() {
			pc.call.reject(core.ParseRemoteError(r.Error))
		} else {
			pc.call.resolve(r.Response)
		}
	}
	return true
}
