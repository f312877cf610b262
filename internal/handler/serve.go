package handler

import (
	"context"
	"log"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/wire"
)

// Serve is the message loop of a worker. Batch requests go to batch and
// streaming requests to stream; either may be nil when the worker does not
// offer that kind. Each request runs on its own goroutine, so a long stream
// does not hold up batches. Serve returns when ctx ends or the scope's
// message channel closes, after in-flight requests finish.
func Serve(ctx context.Context, scope core.Scope, batch *Handler, stream *StreamingHandler) {
	logger := log.Default()
	if batch != nil {
		logger = batch.logger
	} else if stream != nil {
		logger = stream.logger
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	msgs := scope.Messages()
	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			msg = m
		}

		switch kind := wire.Classify(msg); {
		case kind == wire.KindRequest && batch != nil:
			wg.Add(1)
			go func() {
				defer wg.Done()
				serveBatch(ctx, scope, batch, msg)
			}()
		case kind == wire.KindStreamRequest && stream != nil:
			wg.Add(1)
			go func() {
				defer wg.Done()
				serveStream(ctx, scope, stream, msg)
			}()
		default:
			logger.Printf("taskworker: %v", errorf("ignoring %s message", kind))
		}
	}
}

func serveBatch(ctx context.Context, scope core.Scope, h *Handler, msg []byte) {
	out, err := h.HandleMessage(ctx, msg)
	if err != nil {
		h.logger.Printf("taskworker: %v", err)
		return
	}
	if err := scope.PostMessage(out); err != nil {
		h.logger.Printf("taskworker: posting response: %v", err)
	}
}

func serveStream(ctx context.Context, scope core.Scope, h *StreamingHandler, msg []byte) {
	var req core.StreamRequest
	if err := wire.Unmarshal(msg, &req); err != nil {
		h.logger.Printf("taskworker: %v", err)
		return
	}
	err := h.Handle(ctx, req, func(st core.StreamStatus) error {
		data, err := wire.Marshal(st)
		if err != nil {
			return err
		}
		return scope.PostMessage(data)
	})
	if err != nil {
		h.logger.Printf("taskworker: stream %s: %v", req.Method, err)
	}
}

// Main returns a worker entry point serving table's batch and streaming
// methods.
func Main(table *Table, opts ...Option) core.WorkerMain {
	batch := New(table, opts...)
	stream := NewStreaming(table, opts...)
	return func(ctx context.Context, scope core.Scope) {
		Serve(ctx, scope, batch, stream)
	}
}
