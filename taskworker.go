// Package taskworker dispatches debugger work to background workers. Each
// worker runs behind a lazily started handle; the typed clients in this
// package (parser, pretty printer, search and source maps) turn method
// calls into dispatched tasks and decode the results.
package taskworker

import (
	"context"
	"log"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/dispatch"
)

// ClientOption configures a worker client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger *log.Logger
	url    string
}

// WithClientLogger routes the client's dispatcher logs to l.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithURL starts the worker from url instead of the configured resource
// root, for example a ws:// address of a remote worker host.
func WithURL(url string) ClientOption {
	return func(o *clientOptions) { o.url = url }
}

// Client invokes the methods of one worker. Methods listed as queued are
// batched until the end of the current turn.
type Client struct {
	w      *dispatch.LazyWorker
	queued map[string]bool
}

// NewClient creates a client for the worker file name under cfg's
// resource root. Nothing starts until the first call.
func NewClient(cfg Config, h core.Host, fileName string, queued []string, opts ...ClientOption) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	var dopts []dispatch.Option
	if o.logger != nil {
		dopts = append(dopts, dispatch.WithLogger(o.logger))
	}
	w := dispatch.NewLazyWorker(cfg.WithDefaults().Worker(fileName), h, dopts...)
	if o.url != "" {
		w.EnforceURL(o.url)
	}
	c := &Client{w: w, queued: make(map[string]bool, len(queued))}
	for _, m := range queued {
		c.queued[m] = true
	}
	return c
}

// Call invokes method with args and returns the pending call.
func (c *Client) Call(method string, args ...any) (*dispatch.Call, error) {
	fn, err := c.w.Task(method, dispatch.Queue(c.queued[method]))
	if err != nil {
		return nil, err
	}
	return fn(args...), nil
}

// Do invokes method and decodes its result into out, which may be nil.
func (c *Client) Do(ctx context.Context, out any, method string, args ...any) error {
	call, err := c.Call(method, args...)
	if err != nil {
		return err
	}
	if out == nil {
		_, err = call.Wait(ctx)
		return err
	}
	return call.Decode(ctx, out)
}

// Batch issues calls in one turn of the worker's event loop. Calls to
// queued methods made through b share one request per method. fn must
// not wait on the calls it makes: the responses are delivered in later
// turns, which cannot start until fn returns. Wait on the returned calls
// after Batch returns.
func (c *Client) Batch(fn func(b *Batch)) error {
	d, err := c.w.Dispatcher()
	if err != nil {
		return err
	}
	b := &Batch{c: c}
	d.Turn(func() { fn(b) })
	return b.err
}

// Batch collects the calls of one Client.Batch turn.
type Batch struct {
	c   *Client
	err error
}

// Call invokes method inside the batch's turn. It returns nil once the
// batch has failed; Client.Batch reports the error.
func (b *Batch) Call(method string, args ...any) *Call {
	if b.err != nil {
		return nil
	}
	call, err := b.c.Call(method, args...)
	if err != nil {
		b.err = err
		return nil
	}
	return call
}

// Await waits for c and decodes its result as T.
func Await[T any](ctx context.Context, c *Call) (T, error) {
	return dispatch.Await[T](ctx, c)
}

// Stream starts a streaming method.
func (c *Client) Stream(method string, args any) (*dispatch.Stream, error) {
	d, err := c.w.Dispatcher()
	if err != nil {
		return nil, err
	}
	return d.Stream(method, args), nil
}

// URL returns the url the worker starts from.
func (c *Client) URL() string { return c.w.URL() }

// Started reports whether the worker is running.
func (c *Client) Started() bool { return c.w.Started() }

// Destroy stops the worker. Calls still pending never settle.
func (c *Client) Destroy() { c.w.Destroy() }
