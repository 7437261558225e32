package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Game is a registered game type. It fronts a Provider and enforces the
// guarantees every engine shares, so callers never talk to a provider directly.
type Game struct {
	provider Provider
	info     Info
}

func NewGame(p Provider) *Game {
	return &Game{provider: p, info: p.Info()}
}

func (g *Game) ID() string         { return g.info.ID }
func (g *Game) Info() Info         { return g.info }
func (g *Game) Provider() Provider { return g.provider }

func (g *Game) TimeLimit(opts Options) time.Duration {
	return g.provider.TimeLimit(opts)
}

// Start validates the seats and creates the initial state.
func (g *Game) Start(players []Player, opts Options, rnd *rand.Rand) (State, error) {
	if err := ValidatePlayers(g.info, players); err != nil {
		return nil, err
	}
	state, err := g.provider.Start(players, opts, rnd)
	if err != nil {
		return nil, err
	}
	if err := g.verify("start", state); err != nil {
		return nil, err
	}
	return state, nil
}

// Perform decodes cmd and applies it on behalf of the current player.
func (g *Game) Perform(state State, cmd Command, rnd *rand.Rand) error {
	action, err := g.ToAction(cmd, state)
	if err != nil {
		return err
	}
	if err := state.Perform(action, rnd); err != nil {
		return err
	}
	return g.verify("perform", state)
}

func (g *Game) Skip(state State, rnd *rand.Rand) error {
	if err := state.Skip(rnd); err != nil {
		return err
	}
	return g.verify("skip", state)
}

func (g *Game) EndTurn(state State, rnd *rand.Rand) error {
	if err := state.EndTurn(rnd); err != nil {
		return err
	}
	return g.verify("end turn", state)
}

func (g *Game) Leave(state State, player Player) error {
	if err := state.Leave(player); err != nil {
		return err
	}
	return g.verify("leave", state)
}

// ExecuteAutoma plays the turn of the current computer player. On return the
// game has ended or another seat is current.
func (g *Game) ExecuteAutoma(state State, rnd *rand.Rand) error {
	if !g.info.Automa {
		return fmt.Errorf("%w: %s", ErrAutomaNotSupported, g.info.ID)
	}
	if state.IsEnded() {
		return ErrGameEnded
	}
	before, ok := state.CurrentPlayer()
	if !ok || !before.IsComputer() {
		return fmt.Errorf("%w: current seat is not a computer", ErrNotCurrentPlayer)
	}
	if err := g.provider.ExecuteAutoma(state, rnd); err != nil {
		return &EngineError{GameID: g.info.ID, Op: "automa", Err: err}
	}
	if err := g.verify("automa", state); err != nil {
		return err
	}
	if after, ok := state.CurrentPlayer(); ok && after.Name == before.Name {
		return &EngineError{GameID: g.info.ID, Op: "automa", Err: fmt.Errorf("%s still current after automa turn", before.Name)}
	}
	return nil
}

func (g *Game) ToAction(cmd Command, state State) (Action, error) {
	action, err := g.provider.ToAction(cmd, state)
	if err != nil {
		if errors.Is(err, ErrInvalidAction) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return action, nil
}

func (g *Game) ValidCommands(state State, player Player) []Command {
	if state.IsEnded() {
		return nil
	}
	return g.provider.ValidCommands(state, player)
}

func (g *Game) View(state State, viewer *Player) (any, error) {
	return g.provider.View(state, viewer)
}

func (g *Game) Serialize(state State) ([]byte, error) {
	data, err := g.provider.Serialize(state)
	if err != nil {
		return nil, &EngineError{GameID: g.info.ID, Op: "serialize", Err: err}
	}
	return data, nil
}

// Deserialize rebuilds a state. Malformed documents fail with ErrMalformedState.
func (g *Game) Deserialize(data []byte) (State, error) {
	state, err := g.provider.Deserialize(data)
	if err != nil {
		if errors.Is(err, ErrMalformedState) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedState, g.info.ID, err)
	}
	if err := CheckInvariants(state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedState, g.info.ID, err)
	}
	return state, nil
}

func (g *Game) verify(op string, state State) error {
	if err := CheckInvariants(state); err != nil {
		return &EngineError{GameID: g.info.ID, Op: op, Err: err}
	}
	return nil
}
