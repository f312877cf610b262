package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/wire"
)

// Stream follows one streaming request through its status messages:
// start, zero or more pending slices, then done or error.
type Stream struct {
	mu     sync.Mutex
	queue  []core.StreamStatus
	ended  bool
	notify chan struct{}
}

func newStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

func (s *Stream) push(st core.StreamStatus) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, st)
	if st.Terminal() {
		s.ended = true
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next status. After the terminal status has been returned
// it reports io.EOF. A stream on a stopped dispatcher blocks until ctx ends.
func (s *Stream) Next(ctx context.Context) (core.StreamStatus, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			st := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return st, nil
		}
		ended := s.ended
		s.mu.Unlock()
		if ended {
			return core.StreamStatus{}, io.EOF
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return core.StreamStatus{}, ctx.Err()
		}
	}
}

// Collect drains the stream and concatenates the data of every pending
// slice. An error status is returned as a *core.RemoteError.
func (s *Stream) Collect(ctx context.Context) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for {
		st, err := s.Next(ctx)
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return all, err
		}
		switch st.Status {
		case core.StatusPending:
			all = append(all, st.Data...)
		case core.StatusError:
			return all, core.ParseRemoteError(st.Error)
		case core.StatusDone:
			return all, nil
		}
	}
}

// streamListener feeds status messages into a Stream.
type streamListener struct {
	stream *Stream
}

func (l *streamListener) deliver(msg []byte) bool {
	var st core.StreamStatus
	if err := wire.Unmarshal(msg, &st); err != nil {
		l.stream.push(core.StreamStatus{Status: core.StatusError, Error: core.FormatError(core.NewRemoteError(core.KindProtocol, "%v", err))})
		return true
	}
	l.stream.push(st)
	return st.Terminal()
}

// Stream starts a streaming operation on the worker. Without a live port
// the stream never produces a status, like a dropped batch.
func (d *Dispatcher) Stream(method string, args any) *Stream {
	s := newStream()
	encoded, err := wire.EncodeValue(args)
	if err != nil {
		s.push(core.StreamStatus{Status: core.StatusError, Error: core.FormatError(err)})
		return s
	}

	d.mu.Lock()
	port := d.port
	if port == nil {
		d.mu.Unlock()
		return s
	}
	d.msgID++
	id := d.msgID
	d.listeners[id] = &streamListener{stream: s}
	d.mu.Unlock()

	if err := d.post(port, id, core.StreamRequest{ID: id, Method: method, Args: encoded}); err != nil {
		s.push(core.StreamStatus{ID: id, Status: core.StatusError, Error: core.FormatError(err)})
	}
	return s
}
