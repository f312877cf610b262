package host

import (
	"strings"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
)

// Router picks a host by url scheme. Urls without a registered scheme go to
// the fallback host.
type Router struct {
	mu       sync.RWMutex
	schemes  map[string]core.Host
	fallback core.Host
}

// NewRouter creates a router that sends unmatched urls to fallback.
func NewRouter(fallback core.Host) *Router {
	return &Router{schemes: make(map[string]core.Host), fallback: fallback}
}

// Handle routes urls of scheme (e.g. "ws") to h.
func (r *Router) Handle(scheme string, h core.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[strings.ToLower(scheme)] = h
}

// Spawn forwards to the host registered for the url's scheme.
func (r *Router) Spawn(url string) (core.Port, error) {
	r.mu.RLock()
	h := r.fallback
	if scheme, _, ok := strings.Cut(url, "://"); ok {
		if sh, found := r.schemes[strings.ToLower(scheme)]; found {
			h = sh
		}
	}
	r.mu.RUnlock()

	if h == nil {
		return nil, core.ErrUnknownURL
	}
	return h.Spawn(url)
}
