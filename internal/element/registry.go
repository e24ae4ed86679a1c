package element

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownType is returned for type tags without a registered handler
var ErrUnknownType = errors.New("unknown element type")

// Registry maps type tags to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering a tag twice is an error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.Type() == "" {
		return fmt.Errorf("element type tag is required")
	}
	if _, ok := r.handlers[h.Type()]; ok {
		return fmt.Errorf("element type %q already registered", h.Type())
	}
	r.handlers[h.Type()] = h
	return nil
}

// MustRegister registers handlers and panics on error
func (r *Registry) MustRegister(hs ...Handler) {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Get returns the handler for a type tag
func (r *Registry) Get(typ string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return h, nil
}

// Handlers returns all handlers ordered by type tag
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Type() < out[j].Type()
	})
	return out
}
