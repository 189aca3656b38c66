package packstream

import (
	"fmt"
	"sync"

	"github.com/neobolt/driver/bolterr"
)

// Factory builds a domain value (graph.Node, message.Record, ...) from the
// fields of a decoded Structure with a registered tag.
type Factory func(fields []any) (any, error)

// Registry maps structure tags to decode-side factories. It is safe for
// concurrent use; per spec.md §9 ("Global state"), registrations are
// expected to happen once at startup and the registry is then read-only —
// Freeze enforces that by rejecting further Register calls.
type Registry struct {
	mu       sync.RWMutex
	factories map[byte]Factory
	frozen   bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[byte]Factory)}
}

// Register associates tag with factory. It fails if tag is outside 0..127
// or the registry has been frozen.
func (r *Registry) Register(tag byte, factory Factory) error {
	if tag > MaxTag {
		return fmt.Errorf("packstream: register: tag 0x%02X out of range 0..%d", tag, MaxTag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("packstream: register: registry is frozen")
	}
	r.factories[tag] = factory
	return nil
}

// Unregister removes tag's factory, if any.
func (r *Registry) Unregister(tag byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, tag)
}

// IsRegistered reports whether tag has a factory.
func (r *Registry) IsRegistered(tag byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[tag]
	return ok
}

// Clear removes every registered factory and unfreezes the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[byte]Factory)
	r.frozen = false
}

// Freeze prevents further registration. The driver calls this before
// opening its first connection (spec.md §5, "Shared resources").
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) lookup(tag byte) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[tag]
	return f, ok
}

func (r *Registry) build(tag byte, fields []any) (any, error) {
	factory, ok := r.lookup(tag)
	if !ok {
		return nil, bolterr.Protocolf("packstream.Decode", "no factory registered for structure tag 0x%02X", tag)
	}
	v, err := factory(fields)
	if err != nil {
		return nil, bolterr.Protocolf("packstream.Decode", "structure tag 0x%02X: %s", tag, err)
	}
	return v, nil
}

// defaultRegistry starts empty; it holds only what is registered on it, for
// example by passing Default() to graph.RegisterBuiltins and
// message.RegisterBuiltins. No package registers into it automatically.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Decode when no explicit
// Registry is supplied.
func Default() *Registry { return defaultRegistry }

// Register registers tag on the default registry.
func Register(tag byte, factory Factory) error { return defaultRegistry.Register(tag, factory) }
