package streaming

import (
	"sort"
	"sync"
)

// Registry holds one controller per station with thread-safe operations.
// Controllers are never shared between stations.
type Registry struct {
	controllers map[string]*Controller // key: station ID
	mu          sync.RWMutex
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Get retrieves a station's controller (thread-safe)
func (r *Registry) Get(stationID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[stationID]
	return c, ok
}

// GetOrCreate returns the station's controller, creating and initializing it
// with create if absent (thread-safe)
func (r *Registry) GetOrCreate(stationID string, create func() (*Controller, error)) (*Controller, error) {
	if c, ok := r.Get(stationID); ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[stationID]; ok {
		return c, nil
	}

	c, err := create()
	if err != nil {
		return nil, err
	}
	if err := c.Init(); err != nil {
		return nil, err
	}
	r.controllers[stationID] = c
	return c, nil
}

// Remove disposes and forgets a station's controller. It returns false if
// there was none (thread-safe)
func (r *Registry) Remove(stationID string) bool {
	r.mu.Lock()
	c, ok := r.controllers[stationID]
	delete(r.controllers, stationID)
	r.mu.Unlock()

	if ok {
		c.Dispose()
	}
	return ok
}

// List returns all controllers ordered by station ID (thread-safe)
func (r *Registry) List() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID() < out[j].StationID() })
	return out
}

// Len returns the number of controllers (thread-safe)
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// DisposeAll disposes every controller and empties the registry
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	all := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Dispose()
		}(c)
	}
	wg.Wait()
}
