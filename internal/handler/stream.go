package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/wire"
)

// WorkItem is one unit of a streaming operation.
type WorkItem struct {
	Callback func(ctx context.Context, args any) (any, error)
	Args     any
}

// WorkList is the queue of items a streaming method hands back. Items are
// consumed from the front, once.
type WorkList struct {
	mu    sync.Mutex
	items []WorkItem
}

// NewWorkList creates a list holding items.
func NewWorkList(items ...WorkItem) *WorkList {
	return &WorkList{items: items}
}

// Push appends an item.
func (l *WorkList) Push(item WorkItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, item)
}

// Len returns the number of items not yet taken.
func (l *WorkList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *WorkList) shift() (WorkItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return WorkItem{}, false
	}
	item := l.items[0]
	l.items[0] = WorkItem{}
	l.items = l.items[1:]
	return item, true
}

// StreamMethod builds the work list of a streaming request from its
// argument.
type StreamMethod func(ctx context.Context, args json.RawMessage) (*WorkList, error)

// StreamTable resolves streaming method names.
type StreamTable interface {
	LookupStream(name string) (StreamMethod, bool)
	StreamNames() []string
}

// StreamingHandler executes work lists in time slices and reports each
// slice's results as a pending status.
type StreamingHandler struct {
	table   StreamTable
	timeout time.Duration
	logger  *log.Logger
}

// NewStreaming creates a StreamingHandler for table.
func NewStreaming(table StreamTable, opts ...Option) *StreamingHandler {
	o := buildOptions(opts)
	return &StreamingHandler{table: table, timeout: o.timeout, logger: o.logger}
}

// Handle emits start, then one pending status per slice, then done. Any
// failure emits an error status instead and stops. An error from emit
// aborts the request and is returned.
func (h *StreamingHandler) Handle(ctx context.Context, req core.StreamRequest, emit func(core.StreamStatus) error) error {
	if err := emit(core.StreamStatus{ID: req.ID, Status: core.StatusStart}); err != nil {
		return err
	}

	fail := func(err error) error {
		return emit(core.StreamStatus{ID: req.ID, Status: core.StatusError, Error: core.FormatError(err)})
	}

	method, ok := h.table.LookupStream(req.Method)
	if !ok {
		err := unknownMethod(req.Method, h.table.StreamNames())
		h.logger.Printf("taskworker: %v", err)
		return fail(err)
	}

	list, err := h.setup(ctx, req, method)
	if err != nil {
		return fail(err)
	}

	for {
		data, err := h.slice(ctx, list)
		if err != nil {
			return fail(err)
		}
		if err := emit(core.StreamStatus{ID: req.ID, Status: core.StatusPending, Data: data}); err != nil {
			return err
		}
		if list.Len() == 0 {
			break
		}
	}
	return emit(core.StreamStatus{ID: req.ID, Status: core.StatusDone})
}

func (h *StreamingHandler) setup(ctx context.Context, req core.StreamRequest, m StreamMethod) (list *WorkList, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("taskworker: panic in %s: %v\n%s", req.Method, r, debug.Stack())
			err = core.NewRemoteError(core.KindPanic, "%s: %v", req.Method, r)
		}
	}()
	list, err = m(ctx, req.Args)
	if err == nil && list == nil {
		list = NewWorkList()
	}
	return list, err
}

// slice runs items until the list is empty or the slice deadline fires.
// An item already started always completes.
func (h *StreamingHandler) slice(ctx context.Context, list *WorkList) ([]json.RawMessage, error) {
	var expired atomic.Bool
	timer := time.AfterFunc(h.timeout, func() { expired.Store(true) })
	defer timer.Stop()

	data := []json.RawMessage{}
	for !expired.Load() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, ok := list.shift()
		if !ok {
			break
		}
		v, err := runItem(ctx, item)
		if err != nil {
			return nil, err
		}
		raw, err := wire.EncodeValue(v)
		if err != nil {
			return nil, err
		}
		data = append(data, raw)
	}
	return data, nil
}

func runItem(ctx context.Context, item WorkItem) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewRemoteError(core.KindPanic, "%v", r)
		}
	}()
	if item.Callback == nil {
		return nil, fmt.Errorf("work item without callback")
	}
	v, err = item.Callback(ctx, item.Args)
	if err != nil {
		return nil, err
	}
	if aw, ok := v.(core.Awaitable); ok {
		return aw.Await(ctx)
	}
	return v, nil
}
