package relay

import "sync"

// Registry tracks the live session proxies, one per connected client.
type Registry struct {
	mu      sync.Mutex
	proxies map[string]*Proxy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{proxies: make(map[string]*Proxy)}
}

// Add registers a proxy under its session ID.
func (r *Registry) Add(p *Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[p.ID()] = p
}

// Remove unregisters a proxy.
func (r *Registry) Remove(p *Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies, p.ID())
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies)
}

// ShutdownAll tears down every registered proxy. Used on server shutdown so
// upstream connections never outlive the process.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	proxies := make([]*Proxy, 0, len(r.proxies))
	for _, p := range r.proxies {
		proxies = append(proxies, p)
	}
	r.proxies = make(map[string]*Proxy)
	r.mu.Unlock()

	for _, p := range proxies {
		p.Shutdown()
	}
}
