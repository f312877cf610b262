package eventloop

import "sync"

// EventLoop serializes work into turns, the Go stand-in for the single
// thread a UI context runs on. A turn runs one task to completion and then
// drains every microtask queued while it ran, including microtasks queued
// by other microtasks. Turns never overlap.
//
// A microtask queued while no turn is running starts a fresh turn on its own
// goroutine, so it still runs after the caller's synchronous work returns.
type EventLoop struct {
	turnMu sync.Mutex // held for the whole turn

	mu         sync.Mutex
	microtasks []func()
	inTurn     bool
	turns      uint64
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{}
}

// Run executes fn as one turn and blocks until the turn, microtasks
// included, has finished. fn may be nil to only drain microtasks.
// Run must not be called from inside a turn.
func (el *EventLoop) Run(fn func()) {
	el.turnMu.Lock()
	defer el.turnMu.Unlock()

	el.mu.Lock()
	el.inTurn = true
	el.turns++
	el.mu.Unlock()

	if fn != nil {
		fn()
	}
	el.drain()
}

// QueueMicrotask schedules fn to run at the end of the current turn, or in a
// new turn when none is running.
func (el *EventLoop) QueueMicrotask(fn func()) {
	el.mu.Lock()
	el.microtasks = append(el.microtasks, fn)
	inTurn := el.inTurn
	el.mu.Unlock()

	if !inTurn {
		go el.Run(nil)
	}
}

// drain runs queued microtasks until the queue is empty. The emptiness check
// and clearing inTurn happen under one lock, so a microtask queued during
// the turn is either drained here or starts a new turn.
func (el *EventLoop) drain() {
	for {
		el.mu.Lock()
		if len(el.microtasks) == 0 {
			el.inTurn = false
			el.mu.Unlock()
			return
		}
		batch := el.microtasks
		el.microtasks = nil
		el.mu.Unlock()

		for _, task := range batch {
			task()
		}
	}
}

// Turns returns the number of turns started so far.
func (el *EventLoop) Turns() uint64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.turns
}

// HasPending returns true if microtasks are waiting to run.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.microtasks) > 0
}
