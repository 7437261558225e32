package game

import (
	"math/rand/v2"
	"time"
)

// Info describes a game type for the lobby and for seat validation.
type Info struct {
	ID         string        `json:"id"`
	MinPlayers int           `json:"minPlayers"`
	MaxPlayers int           `json:"maxPlayers"`
	Colors     []PlayerColor `json:"colors"`
	Automa     bool          `json:"automa"`
}

func (i Info) SupportsColor(c PlayerColor) bool {
	for _, v := range i.Colors {
		if v == c {
			return true
		}
	}
	return false
}

// Provider is the single entry point to one game implementation.
type Provider interface {
	Info() Info
	// Start validates players and options and returns the initial state.
	Start(players []Player, opts Options, rnd *rand.Rand) (State, error)
	// ExecuteAutoma plays one full turn for the current computer player.
	ExecuteAutoma(state State, rnd *rand.Rand) error
	// TimeLimit is the per-turn limit for realtime tables.
	TimeLimit(opts Options) time.Duration

	Serialize(state State) ([]byte, error)
	Deserialize(data []byte) (State, error)

	// ToAction decodes a wire command in the context of the given state.
	ToAction(cmd Command, state State) (Action, error)
	// ValidCommands lists commands the player could perform right now.
	ValidCommands(state State, player Player) []Command
	// View projects the state for viewer. A nil viewer is a spectator.
	View(state State, viewer *Player) (any, error)
}
