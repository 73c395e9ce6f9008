// Package tunnel exposes a local TCP port under a public or mesh-private URL
// by driving an external tunnel binary. Each Provider knows how to start its
// binary and discover the URL it was assigned.
package tunnel

import (
	"context"
	"fmt"
	"sync"
)

// Provider is one tunnel backend.
type Provider interface {
	// Name is the stable identifier used in requests and storage.
	Name() string
	// DisplayName is a human-readable label.
	DisplayName() string
	// IsAvailable reports whether Spawn can be attempted right now.
	IsAvailable(ctx context.Context) bool
	// Spawn starts a tunnel to 127.0.0.1:localPort and blocks until its URL is
	// known, the provider's timeout elapses, or ctx is done. On error no
	// process is left running.
	Spawn(ctx context.Context, localPort int) (Handle, error)
}

// Handle is a running tunnel.
type Handle interface {
	URL() string
	Provider() string
	// Stop terminates the backing process and waits for it to exit. Calling
	// Stop more than once is safe.
	Stop() error
}

// Registry is an ordered set of providers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
}

// NewRegistry returns a Registry holding providers in the given order.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns the provider called name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Available returns the providers whose IsAvailable reports true.
func (r *Registry) Available(ctx context.Context) []Provider {
	var out []Provider
	for _, name := range r.Names() {
		p, _ := r.Get(name)
		if p.IsAvailable(ctx) {
			out = append(out, p)
		}
	}
	return out
}

func localURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}
