package agent

import (
	"sync"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// Registry maps task codes to handlers. Registration order is dispatch
// priority: the first handler supporting a code wins.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// HandlerFor returns the first handler supporting the code.
func (r *Registry) HandlerFor(code models.TaskCode) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handlers {
		if h.Supports(code) {
			return h, true
		}
	}
	return nil, false
}

// Names lists registered handlers in dispatch order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.handlers))
	for i, h := range r.handlers {
		names[i] = h.Name()
	}
	return names
}
