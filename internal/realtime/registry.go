package realtime

// Registry is the exclusive owner of Connection records, keyed by connection
// ID. It is plain map state mutated only from the hub goroutine, so it needs
// no locking; removal is idempotent because transport-close events and
// sweeper eviction can race to reclaim the same connection.
type Registry struct {
	conns map[string]*Connection
}

func newRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers a connection. The ID is assigned by the hub at accept time
// and never reused for another transport.
func (r *Registry) Add(c *Connection) {
	r.conns[c.ID] = c
}

// Get returns the connection for id, or nil if it is not registered.
func (r *Registry) Get(id string) *Connection {
	return r.conns[id]
}

// Remove deletes the connection for id. It reports whether the connection
// was still present, so callers can make teardown side effects fire exactly
// once.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// All returns a snapshot of all registered connections. Callers iterate the
// snapshot so they may remove entries while ranging.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
