package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Call is the pending result of one dispatched method call. It settles at
// most once, when the worker's response for its batch arrives. A call whose
// dispatcher was stopped never settles.
type Call struct {
	done   chan struct{}
	once   sync.Once
	result json.RawMessage
	err    error
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

// settle completes the call exactly once. Later settlements are ignored.
func (c *Call) settle(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

func (c *Call) resolve(result json.RawMessage) { c.settle(result, nil) }
func (c *Call) reject(err error)               { c.settle(nil, err) }

// Done returns a channel that is closed when the call settles.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Settled reports whether the call has settled.
func (c *Call) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the call settles or ctx is done. Giving up on ctx does
// not cancel the call.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the call and unmarshals its result into v. A null or
// absent result leaves v untouched.
func (c *Call) Decode(ctx context.Context, v any) error {
	raw, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

// Await implements core.Awaitable, so a worker method may hand back a call
// it forwarded to another worker.
func (c *Call) Await(ctx context.Context) (any, error) {
	raw, err := c.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Await waits for c and decodes its result as T.
func Await[T any](ctx context.Context, c *Call) (T, error) {
	var v T
	err := c.Decode(ctx, &v)
	return v, err
}
