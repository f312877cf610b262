package core

import (
	"context"
	"encoding/json"
)

// Host constructs worker execution contexts. It is the only platform
// dependency of the dispatch core.
type Host interface {
	Spawn(url string) (Port, error)
}

// Port is the UI-side end of a worker's message channel. PostMessage never
// blocks on the worker: messages are queued like postMessage in a browser.
type Port interface {
	PostMessage(msg []byte) error

	// Messages delivers worker messages in order and is closed once the
	// worker is gone.
	Messages() <-chan []byte

	// Errors reports worker failures that do not end the port. May be nil.
	Errors() <-chan error

	// Terminate stops the worker. Safe to call more than once.
	Terminate() error
}

// Scope is the worker-side end of the channel, the equivalent of a worker's
// global self.
type Scope interface {
	PostMessage(msg []byte) error
	Messages() <-chan []byte
}

// WorkerMain is the entry point of an in-process worker. It returns when
// ctx is cancelled or the scope's message channel closes.
type WorkerMain func(ctx context.Context, scope Scope)

// Method is a worker-side operation over the raw JSON arguments of one call.
type Method func(ctx context.Context, args []json.RawMessage) (any, error)

// MethodTable resolves method names for the worker-side handler.
type MethodTable interface {
	Lookup(name string) (Method, bool)
	Names() []string
}

// Awaitable is a method result that completes later. The handler awaits it
// before replying.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}
