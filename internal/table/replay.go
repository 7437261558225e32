package table

import (
	"fmt"
	"slices"

	"tabletop/internal/game"
)

// Replay rebuilds the game state of a started table from its log alone.
// Every state change is applied with the seed it was recorded with, so the
// result equals the state the table was saved with.
func Replay(g *game.Game, t *Table) (game.State, error) {
	start, changes := history(t.Log)
	if start == nil {
		return nil, fmt.Errorf("replay %s: table never started", t.ID)
	}
	return replay(g, t, start.Seed, changes)
}

// history returns the start entry and the state changes still in effect:
// undone and reverted changes are dropped, and nothing after an
// abandonment counts.
func history(log []LogEntry) (*LogEntry, []LogEntry) {
	var (
		start   *LogEntry
		changes []LogEntry
	)
	for i, e := range log {
		switch {
		case e.Type == LogStart:
			start = &log[i]
		case e.Type == LogAbandon:
			return start, changes
		case start == nil:
			// seats leaving before the start never reach the game
		case e.Type == LogUndo:
			changes = changes[:cut(changes, e.Target)]
		case e.Type == LogRevert:
			changes = changes[:cut(changes, e.Target+1)]
		case e.changesState():
			changes = append(changes, e)
		}
	}
	return start, changes
}

// cut is the number of changes with a sequence number below seq.
func cut(changes []LogEntry, seq int) int {
	if i := slices.IndexFunc(changes, func(e LogEntry) bool { return e.Seq >= seq }); i >= 0 {
		return i
	}
	return len(changes)
}

func replay(g *game.Game, t *Table, seed game.Seed, changes []LogEntry) (game.State, error) {
	state, err := replayStart(g, t, seed)
	if err != nil {
		return nil, err
	}
	for _, e := range changes {
		rnd := game.NewRand(e.Seed)
		switch e.Type {
		case LogAction:
			if e.Command == nil {
				return nil, fmt.Errorf("replay %s: entry %d has no command", t.ID, e.Seq)
			}
			err = g.Perform(state, *e.Command, rnd)
		case LogSkip, LogForceEndTurn:
			err = g.Skip(state, rnd)
		case LogPassTurn:
			err = g.EndTurn(state, rnd)
		case LogAutoma:
			err = g.ExecuteAutoma(state, rnd)
		case LogLeft:
			seat := t.seat(e.PlayerID)
			if seat == nil {
				return nil, fmt.Errorf("replay %s: entry %d: unknown player %s", t.ID, e.Seq, e.PlayerID)
			}
			err = g.Leave(state, seat.gamePlayer())
		}
		if err != nil {
			return nil, fmt.Errorf("replay %s: entry %d (%s): %w", t.ID, e.Seq, e.Type, err)
		}
	}
	return state, nil
}

func replayStart(g *game.Game, t *Table, seed game.Seed) (game.State, error) {
	rnd := game.NewRand(seed)
	shuffledColors(g.Info(), rnd)
	players := make([]game.Player, len(t.Players))
	for i, p := range t.Players {
		players[i] = p.gamePlayer()
	}
	return g.Start(players, t.Options, rnd)
}
