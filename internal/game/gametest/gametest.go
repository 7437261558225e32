// Package gametest checks that a game implementation honours the engine
// contract: determinism, persistence round trips, turn pointer validity,
// leave safety and automa termination. Each game's tests call Run.
package gametest

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"tabletop/internal/game"
)

type Config struct {
	Game    *game.Game
	Options game.Options
	// Players defaults to MinPlayers humans (or every seat if Seats is set).
	Players []game.Player
	Seats   int
	// Playouts is the number of random games per check.
	Playouts int
	// MaxSteps bounds a single playout.
	MaxSteps int
}

func (c Config) withDefaults() Config {
	if c.Playouts == 0 {
		c.Playouts = 12
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 2000
	}
	if c.Players == nil {
		n := c.Seats
		if n == 0 {
			n = c.Game.Info().MinPlayers
		}
		c.Players = Seats(c.Game.Info(), n, game.Human)
	}
	return c
}

// Seats builds n players of the given type using the game's colors in order.
func Seats(info game.Info, n int, typ game.PlayerType) []game.Player {
	players := make([]game.Player, n)
	for i := range players {
		players[i] = game.Player{Name: fmt.Sprintf("p%d", i+1), Color: info.Colors[i], Type: typ}
	}
	return players
}

// Run executes every contract check as a subtest.
func Run(t *testing.T, cfg Config) {
	t.Helper()
	cfg = cfg.withDefaults()

	t.Run("deterministic", func(t *testing.T) { checkDeterminism(t, cfg) })
	t.Run("round trip", func(t *testing.T) { checkRoundTrip(t, cfg) })
	t.Run("rejected actions leave state unchanged", func(t *testing.T) { checkRejection(t, cfg) })
	t.Run("leave", func(t *testing.T) { checkLeave(t, cfg) })
	t.Run("ended games refuse play", func(t *testing.T) { checkEnded(t, cfg) })
	if cfg.Game.Info().Automa {
		t.Run("automa terminates", func(t *testing.T) { checkAutoma(t, cfg) })
	}
}

// stepFunc observes the state after every accepted change.
type stepFunc func(step int, state game.State)

// Playout plays a random game driven by seed and returns the serialized state
// after every step. leaveAt >= 0 makes the current player leave at that step.
func Playout(t *testing.T, cfg Config, seed game.Seed, leaveAt int, observe stepFunc) []string {
	t.Helper()
	g := cfg.Game
	chooser := game.NewRand(seed)
	state, err := g.Start(cfg.Players, cfg.Options, game.NewRand(seed+1))
	require.NoError(t, err)

	var transcript []string
	record := func(step int) {
		data, err := g.Serialize(state)
		require.NoError(t, err)
		transcript = append(transcript, string(data))
		require.NoError(t, game.CheckInvariants(state), "step %d", step)
		if observe != nil {
			observe(step, state)
		}
	}
	record(0)

	for step := 1; step <= cfg.MaxSteps; step++ {
		cur, ok := state.CurrentPlayer()
		if !ok {
			break
		}
		rnd := game.NewRand(seed + game.Seed(step)*7919)
		switch {
		case step == leaveAt && len(state.ActivePlayers()) > 1:
			require.NoError(t, g.Leave(state, cur))
		default:
			act(t, g, state, cur, chooser, rnd)
		}
		record(step)
	}
	return transcript
}

func act(t *testing.T, g *game.Game, state game.State, cur game.Player, chooser, rnd *rand.Rand) {
	t.Helper()
	cmds := g.ValidCommands(state, cur)
	if len(cmds) == 0 || chooser.IntN(20) == 0 {
		require.NoError(t, g.Skip(state, rnd))
		return
	}
	if chooser.IntN(10) == 0 {
		err := g.EndTurn(state, rnd)
		if err == nil {
			return
		}
		require.True(t, errors.Is(err, game.ErrInvalidAction), "end turn: %v", err)
	}
	cmd := cmds[chooser.IntN(len(cmds))]
	require.NoError(t, g.Perform(state, cmd, rnd), "command %s", cmd.Type)
}

func checkDeterminism(t *testing.T, cfg Config) {
	for i := 0; i < cfg.Playouts; i++ {
		seed := game.Seed(1000 + i)
		a := Playout(t, cfg, seed, -1, nil)
		b := Playout(t, cfg, seed, -1, nil)
		require.Equal(t, a, b, "seed %d", seed)
	}
}

func checkRoundTrip(t *testing.T, cfg Config) {
	g := cfg.Game
	for i := 0; i < cfg.Playouts; i++ {
		ended := false
		Playout(t, cfg, game.Seed(2000+i), -1, func(step int, state game.State) {
			data, err := g.Serialize(state)
			require.NoError(t, err)
			restored, err := g.Deserialize(data)
			require.NoError(t, err)
			again, err := g.Serialize(restored)
			require.NoError(t, err)
			require.Equal(t, string(data), string(again), "step %d", step)
			requireSameQueries(t, state, restored)

			if ended {
				require.True(t, state.IsEnded(), "game reopened at step %d", step)
			}
			ended = state.IsEnded()
			if !ended {
				require.Empty(t, state.Winners())
			}
		})
	}
}

func requireSameQueries(t *testing.T, a, b game.State) {
	t.Helper()
	ca, okA := a.CurrentPlayer()
	cb, okB := b.CurrentPlayer()
	require.Equal(t, okA, okB)
	require.Equal(t, ca, cb)
	require.Equal(t, a.IsEnded(), b.IsEnded())
	require.Equal(t, a.Winners(), b.Winners())
	require.Equal(t, a.Progress(), b.Progress())
	require.Equal(t, a.ActivePlayers(), b.ActivePlayers())
	for _, p := range a.Players() {
		require.Equal(t, a.Score(p), b.Score(p), "score of %s", p.Name)
	}
}

func checkRejection(t *testing.T, cfg Config) {
	g := cfg.Game
	bogus := game.MustCommand("no-such-action", nil)
	for i := 0; i < cfg.Playouts; i++ {
		Playout(t, cfg, game.Seed(3000+i), -1, func(step int, state game.State) {
			if state.IsEnded() {
				return
			}
			before, err := g.Serialize(state)
			require.NoError(t, err)
			err = g.Perform(state, bogus, game.NewRand(game.Seed(step)))
			require.ErrorIs(t, err, game.ErrInvalidAction)
			after, err := g.Serialize(state)
			require.NoError(t, err)
			require.Equal(t, string(before), string(after))
		})
	}
}

func checkLeave(t *testing.T, cfg Config) {
	for i := 0; i < cfg.Playouts; i++ {
		seed := game.Seed(4000 + i)
		leaveAt := 1 + game.NewRand(seed).IntN(12)
		var left game.Player
		Playout(t, cfg, seed, leaveAt, func(step int, state game.State) {
			if step == leaveAt-1 && len(state.ActivePlayers()) > 1 {
				left, _ = state.CurrentPlayer()
			}
			if step >= leaveAt && left.Name != "" {
				require.Equal(t, -1, game.IndexOf(state.ActivePlayers(), left.Name), "left player still active")
				if cur, ok := state.CurrentPlayer(); ok {
					require.NotEqual(t, left.Name, cur.Name)
				}
				if state.IsEnded() {
					require.Equal(t, -1, game.IndexOf(state.Winners(), left.Name), "left player won")
				}
			}
		})
	}
}

func checkEnded(t *testing.T, cfg Config) {
	g := cfg.Game
	for i := 0; i < cfg.Playouts; i++ {
		var final game.State
		Playout(t, cfg, game.Seed(5000+i), -1, func(step int, state game.State) { final = state })
		if !final.IsEnded() {
			continue
		}
		_, ok := final.CurrentPlayer()
		require.False(t, ok, "ended game has a current player")
		require.NotEmpty(t, final.Winners())
		require.ErrorIs(t, g.Skip(final, game.NewRand(1)), game.ErrGameEnded)
	}
}

func checkAutoma(t *testing.T, cfg Config) {
	g := cfg.Game
	computers := make([]game.Player, len(cfg.Players))
	for i, p := range cfg.Players {
		p.Type = game.Computer
		computers[i] = p
	}
	for i := 0; i < cfg.Playouts; i++ {
		seed := game.Seed(6000 + i)
		state, err := g.Start(computers, cfg.Options, game.NewRand(seed))
		require.NoError(t, err)
		for step := 0; !state.IsEnded(); step++ {
			require.Less(t, step, cfg.MaxSteps, "automa game did not finish")
			require.NoError(t, g.ExecuteAutoma(state, game.NewRand(seed+game.Seed(step))))
		}
		require.NotEmpty(t, state.Winners())
	}
}
