package wsock

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/cryguy/taskworker/internal/core"
)

// Server exposes the workers of a host over WebSocket. A connection to
// /<worker-file-name> spawns that worker for the lifetime of the connection.
type Server struct {
	host   core.Host
	opts   Options
	logger *log.Logger
	accept *websocket.AcceptOptions

	mu       sync.Mutex
	sessions map[string]string // session id -> worker url
}

// NewServer creates a Server spawning workers on h. A nil logger means
// log.Default().
func NewServer(h core.Host, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		host:     h,
		opts:     opts.withDefaults(),
		logger:   logger,
		accept:   &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns},
		sessions: make(map[string]string),
	}
}

// Sessions returns the ids of the open connections, sorted.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimPrefix(r.URL.Path, "/")
	port, err := s.host.Spawn(url)
	if err != nil {
		if errors.Is(err, core.ErrUnknownURL) {
			http.NotFound(w, r)
			return
		}
		s.logger.Printf("taskworker: starting worker %s: %v", url, err)
		http.Error(w, "worker unavailable", http.StatusServiceUnavailable)
		return
	}
	defer port.Terminate()

	conn, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		s.logger.Printf("taskworker: accepting connection for %s: %v", url, err)
		return
	}
	conn.SetReadLimit(s.opts.MaxMessageBytes)

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = url
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	status := s.bridge(r.Context(), id, conn, port)
	conn.Close(status, "")
}

// bridge relays frames between conn and the worker port until either side
// goes away, and returns the close status for the connection.
func (s *Server) bridge(ctx context.Context, id string, conn *websocket.Conn, port core.Port) websocket.StatusCode {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			msg, err := readFrame(ctx, conn, s.opts)
			if err != nil {
				if !closedNormally(err) {
					s.logger.Printf("taskworker: session %s: %v", id, err)
				}
				return
			}
			if err := port.PostMessage(msg); err != nil {
				return
			}
		}
	}()

	errs := port.Errors()
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Printf("taskworker: session %s: worker error: %v", id, err)
		case msg, ok := <-port.Messages():
			if !ok {
				return websocket.StatusGoingAway
			}
			if err := writeFrame(ctx, conn, msg, s.opts); err != nil {
				if !closedNormally(err) {
					s.logger.Printf("taskworker: session %s: %v", id, err)
				}
				return websocket.StatusInternalError
			}
		}
	}
}
