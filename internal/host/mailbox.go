package host

import (
	"sync"

	"github.com/cryguy/taskworker/internal/core"
)

// Mailbox is an unbounded, ordered message queue drained into a channel by
// its own goroutine. Put never blocks, so a sender inside an event-loop turn
// cannot deadlock against a receiver waiting for that loop.
type Mailbox struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool

	signal chan struct{}
	done   chan struct{}
	out    chan []byte
}

// NewMailbox creates a mailbox and starts its delivery goroutine.
func NewMailbox() *Mailbox {
	m := &Mailbox{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan []byte),
	}
	go m.pump()
	return m
}

// Put enqueues a copy of msg. It fails with core.ErrPortClosed after Close.
func (m *Mailbox) Put(msg []byte) error {
	cp := make([]byte, len(msg))
	copy(cp, msg)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.ErrPortClosed
	}
	m.queue = append(m.queue, cp)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

// Close stops delivery. Undelivered messages are discarded and the output
// channel is closed.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	close(m.done)
}

// C returns the delivery channel.
func (m *Mailbox) C() <-chan []byte {
	return m.out
}

func (m *Mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, msg := range batch {
			select {
			case m.out <- msg:
			case <-m.done:
				return
			}
		}

		select {
		case <-m.signal:
		case <-m.done:
			return
		}
	}
}
