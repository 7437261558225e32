package game

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds all registered game types keyed by id.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*Game
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]*Game)}
}

// Register adds a game type. Panics on duplicate ids.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Info().ID
	if _, exists := r.games[id]; exists {
		panic(fmt.Sprintf("game %q already registered", id))
	}
	r.games[id] = NewGame(p)
}

// Get returns a game by id.
func (r *Registry) Get(id string) (*Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	return g, ok
}

// Lookup is Get with ErrGameNotFound for unknown ids.
func (r *Registry) Lookup(id string) (*Game, error) {
	g, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGameNotFound, id)
	}
	return g, nil
}

// List returns info for all registered games, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.games))
	for _, g := range r.games {
		infos = append(infos, g.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Restrict drops every game whose id is not listed. An empty list keeps all.
// Unknown ids are reported so configuration typos surface at startup.
func (r *Registry) Restrict(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.games[id]; !ok {
			return fmt.Errorf("%w: %q enabled but not registered", ErrGameNotFound, id)
		}
		keep[id] = true
	}
	for id := range r.games {
		if !keep[id] {
			delete(r.games, id)
		}
	}
	return nil
}
