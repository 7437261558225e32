// Package catalog registers every built-in game.
package catalog

import (
	"tabletop/internal/game"
	"tabletop/internal/game/nothanks"
	"tabletop/internal/game/pig"
	"tabletop/internal/game/tictactoe"
)

// Providers returns the built-in games.
func Providers() []game.Provider {
	return []game.Provider{
		nothanks.Provider{},
		pig.Provider{},
		tictactoe.Provider{},
	}
}

// New builds a registry of the built-in games limited to enabled. An empty
// enabled list keeps every game.
func New(enabled []string) (*game.Registry, error) {
	r := game.NewRegistry()
	for _, p := range Providers() {
		r.Register(p)
	}
	if err := r.Restrict(enabled); err != nil {
		return nil, err
	}
	return r, nil
}
