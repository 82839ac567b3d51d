package coordinator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/strumspace/internal/service"
)

// Registry holds the descriptors of every remote service the orchestrator
// calls. It is pure state and performs no I/O.
//
// Concurrency Model:
//   - Reads take RLock and return a deep copy of the stored descriptor
//   - Writes take Lock, copy the stored descriptor, mutate the copy and swap
//     the stored pointer
//   - A descriptor handed to a caller never changes underneath it
//
// Layout:
//
//	┌──────────────────────────────────────────┐
//	│                Registry                  │
//	├──────────────────────────────────────────┤
//	│  "interpreter" → *Descriptor (v1)        │
//	│  "tracker"     → *Descriptor (v3)        │
//	├──────────────────────────────────────────┤
//	│  Update: copy v3 → mutate → store v4     │
//	└──────────────────────────────────────────┘
type Registry struct {
	services map[string]*service.Descriptor
	now      func() time.Time
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]*service.Descriptor),
		now:      time.Now,
	}
}

// Register adds a service or refreshes an existing one.
//
// A new service starts in HealthUnknown with DefaultMaxRetries. Registering
// a name that already exists replaces its address and capabilities and keeps
// its health, probe history and retry budget.
//
// Parameters:
//   - name: Service name (e.g. service.Interpreter)
//   - address: Base URL or host:port of the service
//   - capabilities: Informational capability tags
//
// Returns:
//   - service.Descriptor: Copy of the stored descriptor
//   - bool: true if an existing registration was replaced
//   - error: If name or address is blank
//
// Example:
//
//	d, replaced, err := reg.Register("tracker", "http://localhost:8000", []string{"ar_overlay"})
func (r *Registry) Register(name, address string, capabilities []string) (service.Descriptor, bool, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if name == "" {
		return service.Descriptor{}, false, fmt.Errorf("%w: service name is required", ErrInvalidRequest)
	}
	if address == "" {
		return service.Descriptor{}, false, fmt.Errorf("%w: service address is required", ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	caps := append([]string(nil), capabilities...)
	if current, ok := r.services[name]; ok {
		next := current.Clone()
		next.Address = address
		next.Capabilities = caps
		r.services[name] = &next
		return next.Clone(), true, nil
	}

	d := &service.Descriptor{
		Name:         name,
		Address:      address,
		Capabilities: caps,
		Health:       service.HealthUnknown,
		MaxRetries:   service.DefaultMaxRetries,
		RegisteredAt: r.now(),
	}
	r.services[name] = d
	return d.Clone(), false, nil
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (service.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.services[name]
	if !ok {
		return service.Descriptor{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return d.Clone(), nil
}

// Update applies mutate to a copy of the named descriptor and stores the
// result. mutate runs under the write lock and must not block. The Name
// field cannot be changed.
//
// Returns the descriptor as it was before and after the mutation.
func (r *Registry) Update(name string, mutate func(d *service.Descriptor)) (before, after service.Descriptor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.services[name]
	if !ok {
		return service.Descriptor{}, service.Descriptor{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	next := current.Clone()
	mutate(&next)
	next.Name = current.Name
	r.services[name] = &next
	return current.Clone(), next.Clone(), nil
}

// List returns copies of all descriptors ordered by name.
func (r *Registry) List() []service.Descriptor {
	r.mu.RLock()
	out := make([]service.Descriptor, 0, len(r.services))
	for _, d := range r.services {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b service.Descriptor) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// HealthMap returns the current health of every service.
func (r *Registry) HealthMap() map[string]service.Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]service.Health, len(r.services))
	for name, d := range r.services {
		out[name] = d.Health
	}
	return out
}
