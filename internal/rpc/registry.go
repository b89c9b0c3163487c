package rpc

import (
	"context"
	"sort"
	"sync"

	"github.com/nerrad567/coreiot-gateway/internal/protocol"
)

// Handler executes one RPC method.
//
// The returned map becomes the response payload. A "success" key is added
// when the handler does not set one. A returned error produces a failure
// response carrying the error text.
type Handler func(ctx context.Context, req protocol.RPCRequest) (map[string]any, error)

// Registry maps method names to handlers.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds method to h, replacing any earlier binding.
func (r *Registry) Register(method string, h Handler) {
	r.mu.Lock()
	r.handlers[method] = h
	r.mu.Unlock()
}

// Lookup returns the handler bound to method.
func (r *Registry) Lookup(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Methods returns the registered method names, sorted.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	r.mu.RUnlock()

	sort.Strings(methods)
	return methods
}
