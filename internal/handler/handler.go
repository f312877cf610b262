// Package handler runs inside a worker: it executes the calls of incoming
// requests against a method table and replies with aligned results.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/wire"
)

type options struct {
	logger  *log.Logger
	timeout time.Duration
}

// Option configures a Handler or StreamingHandler.
type Option func(*options)

// WithLogger routes handler logs to l.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTimeout sets the time slice of a StreamingHandler. Ignored by
// Handler.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{timeout: core.DefaultStreamTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.timeout <= 0 {
		o.timeout = core.DefaultStreamTimeout
	}
	return o
}

// Handler answers batch requests from a method table.
type Handler struct {
	table  core.MethodTable
	logger *log.Logger
}

// New creates a Handler for table.
func New(table core.MethodTable, opts ...Option) *Handler {
	o := buildOptions(opts)
	return &Handler{table: table, logger: o.logger}
}

// Handle runs every call of req concurrently and returns exactly one
// response with the results in call order. A failing call only fails its own
// position. An unknown method fails every position.
func (h *Handler) Handle(ctx context.Context, req core.Request) core.Response {
	resp := core.Response{ID: req.ID, Results: make([]core.Result, len(req.Calls))}

	method, ok := h.table.Lookup(req.Method)
	if !ok {
		err := unknownMethod(req.Method, h.table.Names())
		h.logger.Printf("taskworker: %v", err)
		for i := range resp.Results {
			resp.Results[i] = core.Result{Error: core.FormatError(err)}
		}
		return resp
	}

	var wg sync.WaitGroup
	for i, args := range req.Calls {
		wg.Add(1)
		go func(i int, args []json.RawMessage) {
			defer wg.Done()
			resp.Results[i] = h.call(ctx, req.Method, method, args)
		}(i, args)
	}
	wg.Wait()
	return resp
}

// HandleMessage decodes a request, handles it and encodes the response.
func (h *Handler) HandleMessage(ctx context.Context, msg []byte) ([]byte, error) {
	var req core.Request
	if err := wire.Unmarshal(msg, &req); err != nil {
		return nil, err
	}
	return wire.Marshal(h.Handle(ctx, req))
}

func (h *Handler) call(ctx context.Context, name string, m core.Method, args []json.RawMessage) (res core.Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("taskworker: panic in %s: %v\n%s", name, r, debug.Stack())
			res = core.Result{Error: core.FormatError(core.NewRemoteError(core.KindPanic, "%s: %v", name, r))}
		}
	}()

	v, err := invoke(ctx, m, args)
	if err != nil {
		return core.Result{Error: core.FormatError(err)}
	}
	raw, err := wire.EncodeValue(v)
	if err != nil {
		return core.Result{Error: core.FormatError(err)}
	}
	return core.Result{Response: raw}
}

// invoke calls m and awaits its result when the method handed back
// something that completes later.
func invoke(ctx context.Context, m core.Method, args []json.RawMessage) (any, error) {
	v, err := m(ctx, args)
	if err != nil {
		return nil, err
	}
	if aw, ok := v.(core.Awaitable); ok {
		return aw.Await(ctx)
	}
	return v, nil
}

// unknownMethod builds the error for a missing method, suggesting the
// closest known name when one is near enough to be a typo.
func unknownMethod(name string, known []string) error {
	best, bestDist := "", -1
	for _, k := range known {
		d := levenshtein.ComputeDistance(name, k)
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist >= 0 && bestDist <= limit {
		return core.NewRemoteError(core.KindUnknownMethod, "could not find %s defined in worker; did you mean %s?", name, best)
	}
	return core.NewRemoteError(core.KindUnknownMethod, "could not find %s defined in worker", name)
}

// errorf wraps a Go-side failure the handler cannot attribute to a call.
func errorf(format string, args ...any) error {
	return fmt.Errorf("handler: "+format, args...)
}
