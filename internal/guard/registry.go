package guard

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds guards, organized by tool.
type Registry struct {
	mu     sync.RWMutex
	byTool map[string][]*Guard
	byID   map[string]*Guard
}

// NewRegistry creates an empty guard registry.
func NewRegistry() *Registry {
	return &Registry{
		byTool: make(map[string][]*Guard),
		byID:   make(map[string]*Guard),
	}
}

// Register adds a guard. Returns an error if a guard with the same ID is
// already registered.
func (r *Registry) Register(g *Guard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[g.ID]; exists {
		return fmt.Errorf("guard %q already registered", g.ID)
	}
	r.byTool[g.Tool] = append(r.byTool[g.Tool], g)
	r.byID[g.ID] = g
	return nil
}

// Unregister removes a guard by ID.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, exists := r.byID[id]
	if !exists {
		return
	}
	delete(r.byID, id)

	guards := r.byTool[g.Tool]
	for i, tg := range guards {
		if tg.ID == id {
			r.byTool[g.Tool] = append(guards[:i], guards[i+1:]...)
			break
		}
	}
}

// Get returns a guard by ID, or nil if not found.
func (r *Registry) Get(id string) *Guard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// ForTool returns the guards registered for a tool, in registration order.
func (r *Registry) ForTool(tool string) []*Guard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Guard, len(r.byTool[tool]))
	copy(result, r.byTool[tool])
	return result
}

// All returns every guard sorted by ID.
func (r *Registry) All() []*Guard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Guard, 0, len(r.byID))
	for _, g := range r.byID {
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Count returns the number of registered guards.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Configure applies config overrides: guards listed in soft only warn,
// guards listed in disabled are removed. Unknown IDs are an error.
func (r *Registry) Configure(soft, disabled []string) error {
	off := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		if r.Get(id) == nil {
			return fmt.Errorf("unknown guard %q in guards.disabled", id)
		}
		r.Unregister(id)
		off[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range soft {
		if off[id] {
			continue
		}
		g, ok := r.byID[id]
		if !ok {
			return fmt.Errorf("unknown guard %q in guards.soft", id)
		}
		g.Mode = ModeSoft
	}
	return nil
}
